package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"consensus-simulator/internal/config"
)

// app передает подкомандам то, что подготовил PersistentPreRunE.
type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	var cfgFile string

	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Educational simulator for PoW, PoS and fork resolution",
		Long: `simulator runs a proof-of-work mining race with difficulty retargeting,
stake-weighted proof-of-stake selection and longest-chain fork resolution,
either behind an HTTP service, as a local batch run or against a remote service.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			if err := v.BindPFlag("log_level", cmd.Flags().Lookup("log-level")); err != nil {
				return errors.Wrap(err, "failed to bind flags")
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			if err := setupLogger(cfg.LogLevel); err != nil {
				return err
			}

			a.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML/JSON/TOML config file")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newRemoteCmd(a))

	return cmd
}

func setupLogger(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
	return nil
}
