package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	var eval []string

	cmd := &cobra.Command{
		Use:   "run [script.js...]",
		Short: "Run scripts until the event loop is idle",
		Long: `Run each script as a task, in order, processing events until the thread is
idle before starting the next one. Inline code given with -e runs first.

Example:
  jsctx run main.js
  jsctx run -e "queueMicrotask(() => console.log('later')); console.log('now')"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(eval) == 0 {
				return errors.New("nothing to run")
			}
			return runScripts(cmd, rootOpts, eval, args)
		},
	}

	cmd.Flags().StringArrayVarP(&eval, "eval", "e", nil, "inline script to run (repeatable)")

	return cmd
}

func runScripts(cmd *cobra.Command, opts *rootOptions, eval, paths []string) error {
	logger, err := opts.logger(cmd)
	if err != nil {
		return err
	}

	type script struct{ name, src string }
	scripts := make([]script, 0, len(eval)+len(paths))
	for i, src := range eval {
		scripts = append(scripts, script{name: fmt.Sprintf("<eval %d>", i+1), src: src})
	}
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		scripts = append(scripts, script{name: path, src: string(b)})
	}

	s, err := newSession(opts.cfg, "", logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	for _, sc := range scripts {
		if err := s.evaluate(sc.name, sc.src); err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
	}
	if err := s.close(); err != nil {
		return err
	}

	if s.threw != 0 {
		return fmt.Errorf("%d script(s) threw an exception", s.threw)
	}
	return nil
}
