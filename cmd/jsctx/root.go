package main

import (
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags, and the configuration they resolve to.
type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "jsctx",
		Short: "Run JavaScript on a cycle-collected execution context",
		Long: `Run JavaScript on a single-threaded event loop, with microtask checkpoints,
stable state callbacks, pending transactions and promise rejection tracking.

Scripts may require('jscontext') for direct access to the context.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
				if err := cfg.validate(); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warning", "log level (err, warning, info, debug, trace)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newScenarioCommand(opts))

	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) (*logiface.Logger[logiface.Event], error) {
	return newLogger(cmd.ErrOrStderr(), o.cfg)
}
