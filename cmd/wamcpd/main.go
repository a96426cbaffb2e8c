// Command wamcpd runs the WhatsApp MCP daemon: it keeps one WhatsApp
// session connected and exposes it as MCP tools on stdin/stdout.
package main

import (
	"fmt"
	"os"

	"github.com/mfigueiredo/wamcp/internal/daemon"
	"github.com/mfigueiredo/wamcp/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	var sessionFlag, configFlag string

	rootCmd := &cobra.Command{
		Use:          "wamcpd",
		Short:        "WhatsApp MCP daemon",
		Long:         "wamcpd connects a WhatsApp account and serves it to MCP clients over stdio.\nAll diagnostics go to stderr and the session log file; stdout carries only MCP traffic.",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			sessionName := session.Resolve(sessionFlag, configFlag)
			if err := session.ValidateName(sessionName); err != nil {
				return err
			}

			app := fx.New(
				daemon.Module(daemon.Params{SessionName: sessionName, ConfigPath: configFlag}),
				fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
					return &fxevent.ZapLogger{Logger: logger}
				}),
			)
			app.Run()
			return nil
		},
	}
	rootCmd.Flags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "path to config.toml (defaults to ~/.wamcp/config.toml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
