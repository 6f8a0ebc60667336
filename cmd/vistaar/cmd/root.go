// Package cmd holds the vistaar command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/antoniostano/vistaar/internal/config"
	"github.com/antoniostano/vistaar/internal/observability"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "vistaar",
		Short: "Voice-enabled client for the VISTAAR agricultural advisory service",
		Long: `vistaar talks to the VISTAAR advisory API in English, Hindi and Marathi.

It can answer questions, record and transcribe speech, read answers aloud,
and serve a local companion API for browser or kiosk frontends.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "TOML config file (default: $VISTAAR_CONFIG_FILE)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newRecordCmd(opts),
		newTranscribeCmd(opts),
		newEncodeCmd(),
		newDetectCmd(),
		newSpeakCmd(opts),
		newAuthCmd(opts),
	)
	return root
}

// Execute runs the command line. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		printError(root, err)
	}
	return err
}

// load reads the configuration and builds the root logger. The CLI always
// logs to the terminal in console format.
func (o *rootOptions) load(pretty bool) (config.Config, zerolog.Logger, error) {
	if o.configFile != "" {
		if err := os.Setenv("VISTAAR_CONFIG_FILE", o.configFile); err != nil {
			return config.Config{}, zerolog.Nop(), err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config error: %w", err)
	}
	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	return cfg, observability.NewLogger(level, pretty || cfg.LogPretty), nil
}

func printError(c *cobra.Command, err error) {
	fmt.Fprintf(c.ErrOrStderr(), "error: %v\n", err)
}
