package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"consensus-simulator/consensus/fork"
	"consensus-simulator/consensus/pos"
	"consensus-simulator/consensus/pow"
	"consensus-simulator/internal/api"
	"consensus-simulator/internal/config"
	"consensus-simulator/internal/monitor"
)

// newEngines создает по одному экземпляру каждого симулятора.
func newEngines(cfg *config.Config) api.Engines {
	return api.Engines{
		PoW:  pow.NewPoW(cfg.PoW.Engine()),
		PoS:  pos.NewPoS(cfg.PoS.Engine()),
		Fork: fork.NewResolver(cfg.Fork.Engine()),
	}
}

// newMonitor регистрирует все движки в мониторе с экспортом в reg.
func newMonitor(cfg *config.Config, engines api.Engines, reg prometheus.Registerer) *monitor.Monitor {
	m := monitor.NewMonitor(cfg.Monitor.OutputDir, cfg.Monitor.Interval, reg)
	m.AddSystem(engines.PoW)
	m.AddSystem(engines.PoS)
	m.AddSystem(engines.Fork)
	return m
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulators over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			return serve(cmd.Context(), a.cfg)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engines := newEngines(cfg)
	mon := newMonitor(cfg, engines, reg)
	mon.Start()

	srv := api.NewServer(engines, api.Options{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Gatherer:        reg,
	})

	runErr := srv.Run(ctx)
	if err := mon.Stop(); err != nil {
		slog.Error("Ошибка сохранения отчетов", "error", err)
	}
	return runErr
}
