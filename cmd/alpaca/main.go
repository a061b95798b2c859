/*
Command alpaca talks to a brokerage account through the trading REST API and the
account stream.

The stream command keeps the account stream open, logs every trade and account update,
optionally journals them to SQLite, and exposes Prometheus metrics and a gRPC health
service. The remaining commands are one-shot REST calls that print JSON.

Configuration is read from an optional YAML file, a .env file and the APCA_*
environment variables:

	alpaca --config alpaca.yaml stream
	APCA_API_KEY_ID=... APCA_API_SECRET_KEY=... alpaca orders list --status all
*/
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Overmuse/alpaca/internal/config"
	"github.com/Overmuse/alpaca/internal/logging"
	"github.com/Overmuse/alpaca/internal/rest"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app carries what PersistentPreRunE loads to the subcommands.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg       *config.Config
	logCloser io.Closer
	client    *rest.Client
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "alpaca",
		Short:         "Brokerage account client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "Override the log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "", "Override the log format (console, json)")

	rootCmd.AddCommand(
		streamCmd(a),
		accountCmd(a),
		ordersCmd(a),
		positionsCmd(a),
		assetsCmd(a),
		clockCmd(a),
		calendarCmd(a),
		activitiesCmd(a),
		healthCmd(a),
	)
	return rootCmd
}

// init loads the configuration, installs the logger and builds the REST client.
func (a *app) init(stderr io.Writer) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}

	closer, err := logging.Setup(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Out:        stderr,
	})
	if err != nil {
		return err
	}
	a.logCloser = closer

	client, err := rest.New(rest.Config{
		BaseURL:           cfg.Alpaca.BaseURL,
		KeyID:             cfg.Alpaca.KeyID,
		SecretKey:         cfg.Alpaca.SecretKey,
		RequestsPerMinute: cfg.REST.RequestsPerMinute,
		Timeout:           cfg.REST.Timeout,
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.client = client
	log.Debug().Object("config", cfg).Msg("configuration loaded")
	return nil
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
