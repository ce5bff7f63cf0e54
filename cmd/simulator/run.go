package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"consensus-simulator/consensus"
	"consensus-simulator/internal/api"
	"consensus-simulator/internal/config"
	"consensus-simulator/internal/traffic"
	"consensus-simulator/internal/types"
)

// kindStats - итоги выполнения задач одного типа за прогон.
type kindStats struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// batchReport - все, что пакетный прогон печатает в конце.
type batchReport struct {
	Jobs    int
	PerKind map[types.JobKind]*kindStats
	Metrics []types.Metrics
	Tree    string
	Rate    float64
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the simulators with a generated workload and print an analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("jobs") {
				a.cfg.Traffic.Jobs, _ = flags.GetInt("jobs")
			}
			if flags.Changed("rate") {
				a.cfg.Traffic.Rate, _ = flags.GetFloat64("rate")
			}
			if flags.Changed("output") {
				a.cfg.Monitor.OutputDir, _ = flags.GetString("output")
			}
			if a.cfg.Traffic.Jobs <= 0 {
				return errors.WithMessagef(config.ErrInvalidConfig, "--jobs must be positive, got %d", a.cfg.Traffic.Jobs)
			}
			if a.cfg.Traffic.Rate <= 0 {
				return errors.WithMessagef(config.ErrInvalidConfig, "--rate must be positive, got %v", a.cfg.Traffic.Rate)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runBatch(ctx, a.cfg)
			if report != nil {
				printAnalysis(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().Int("jobs", 100, "number of jobs to execute")
	cmd.Flags().Float64("rate", 20, "jobs generated per second")
	cmd.Flags().String("output", "results", "directory for JSON, CSV and Markdown reports")
	return cmd
}

// runBatch выполняет cfg.Traffic.Jobs сгенерированных задач на локальных движках.
// При отмене ctx возвращается частичный отчет.
func runBatch(ctx context.Context, cfg *config.Config) (*batchReport, error) {
	mix, err := traffic.ParseMix(cfg.Traffic.Mix)
	if err != nil {
		return nil, err
	}

	engines := newEngines(cfg)
	mon := newMonitor(cfg, engines, prometheus.NewRegistry())
	mon.Start()

	jobs := make(chan types.Job)
	gen := traffic.NewGenerator(cfg.Traffic.Rate, mix, 0)
	gen.Start(jobs)

	bar := progressbar.NewOptions64(
		int64(cfg.Traffic.Jobs),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("Running jobs..."),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	if err := bar.RenderBlank(); err != nil {
		slog.Warn("Ошибка отрисовки прогресс-бара", "error", err)
	}

	report := &batchReport{PerKind: make(map[types.JobKind]*kindStats)}
	var runErr error

loop:
	for report.Jobs < cfg.Traffic.Jobs {
		select {
		case <-ctx.Done():
			slog.Info("Прогон прерван пользователем", "completed", report.Jobs)
			runErr = ctx.Err()
			break loop
		case job := <-jobs:
			recordOutcome(report, job.Kind, executeJob(ctx, engines, job))
			report.Jobs++
			_ = bar.Add(1)
		}
	}

	gen.Stop()
	_ = bar.Finish()

	if err := mon.Stop(); err != nil {
		slog.Error("Ошибка сохранения отчетов", "error", err)
	}

	_, report.Rate, _ = gen.GetStats()
	report.Metrics = mon.Latest()
	report.Tree = engines.Fork.Tree()
	return report, runErr
}

// executeJob выполняет одну задачу на соответствующем движке.
func executeJob(ctx context.Context, engines api.Engines, job types.Job) error {
	var err error
	switch job.Kind {
	case types.JobMine:
		_, err = engines.PoW.Mine(ctx)
	case types.JobValidate:
		_, err = engines.PoS.Validate()
	case types.JobFork:
		_, err = engines.Fork.SimulateFork()
	case types.JobResolve:
		_, err = engines.Fork.Resolve()
	default:
		err = errors.Errorf("unknown job kind %q", job.Kind)
	}

	if err != nil {
		slog.Debug("Задача завершилась ошибкой", "id", job.ID, "kind", job.Kind, "error", err)
	}
	return err
}

// recordOutcome учитывает результат задачи. Разрешение без форка считается
// пропуском, а не ошибкой.
func recordOutcome(report *batchReport, kind types.JobKind, err error) {
	s, ok := report.PerKind[kind]
	if !ok {
		s = &kindStats{}
		report.PerKind[kind] = s
	}

	switch {
	case err == nil:
		s.Succeeded++
	case errors.Is(err, consensus.ErrNothingToResolve):
		s.Skipped++
	default:
		s.Failed++
	}
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
