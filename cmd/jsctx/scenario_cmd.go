package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScenarioCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scenario <scenario.yaml>...",
		Short: "Run YAML scenarios and print their transcripts",
		Long: `Run each scenario on a fresh context. Every step's script runs as a task,
then the thread is drained, and the output of the step is recorded. Steps
with an expect list fail if their output differs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := rootOpts.logger(cmd)
			if err != nil {
				return err
			}
			var failures int
			for _, path := range args {
				sc, err := loadScenario(path)
				if err != nil {
					return err
				}
				t, err := runScenario(sc, rootOpts.cfg, logger)
				if err != nil {
					return fmt.Errorf("scenario %s: %w", sc.Name, err)
				}
				if _, err := fmt.Fprint(cmd.OutOrStdout(), t.String()); err != nil {
					return err
				}
				failures += t.Failures
			}
			if failures != 0 {
				return fmt.Errorf("%d step(s) did not match their expected output", failures)
			}
			return nil
		},
	}
}
