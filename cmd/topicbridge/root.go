package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. "run" is also the root's default action.
func newRootCmd() *cobra.Command {
	var cfgPath string

	runE := func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfgPath)
	}

	root := &cobra.Command{
		Use:           "topicbridge",
		Short:         "MQTT to device/state store bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "configuration file (.yaml or .json)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runE,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return printConfig(cmd.OutOrStdout(), cfgPath)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "topicbridge %s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)

	root.SetContext(context.Background())
	return root
}

// printConfig writes the loaded configuration, defaults and environment
// overrides applied, with secrets redacted.
func printConfig(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	out, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	_, err = w.Write(out)
	return err
}
