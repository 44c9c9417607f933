// Command meterd serves the gas meter's state files over TCP.
//
//	meterd --state-dir /var/lib/gasmeter --listen :5555 --metrics-listen :9100
//
// Every flag can also be set with a METERD_* environment variable (dashes
// and dots become underscores), in a .env file in the working directory,
// or in the file named by --config.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "meterd:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "meterd",
		Short:         "Serve gas meter state over TCP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, s, logger, nil)
		},
	}
	defineFlags(cmd.Flags())
	return cmd
}
