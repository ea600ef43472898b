package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dicoderin/bitbot/internal/config"
	"github.com/dicoderin/bitbot/internal/metrics"
	"github.com/dicoderin/bitbot/internal/orchestrator"
	"github.com/dicoderin/bitbot/internal/schedule"
)

func newRunCmd() *cobra.Command {
	var (
		count          int
		nonInteractive bool
		once           bool
		logLevel       string
		pretty         bool
		eventsFile     string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every identity now and then on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.App.LogLevel = logLevel
			}
			if cmd.Flags().Changed("pretty") {
				cfg.App.Pretty = pretty
			}
			if eventsFile != "" {
				cfg.Inputs.EventsFile = eventsFile
			}
			if count > 0 {
				cfg.Run.ExchangesPerAccount = count
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runBot(ctx, cmd, cfg, nonInteractive, once)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exchanges per account (capped at the daily limit)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt; default the count to 1")
	cmd.Flags().BoolVar(&once, "once", false, "process the identities once and exit")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "human readable console output")
	cmd.Flags().StringVar(&eventsFile, "events-file", "", "append every event as JSON lines to this file")
	return cmd
}

func runBot(ctx context.Context, cmd *cobra.Command, cfg *config.Config, nonInteractive, once bool) error {
	log := newLogger(cmd.OutOrStdout(), cfg)

	in, err := readInputs(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("load inputs")
		return err
	}
	log.Info().Int("keys", len(in.keys)).Int("messages", len(in.messages)).Int("proxies", len(in.proxies)).Msg("inputs loaded")

	n, err := resolveCount(cmd, cfg, nonInteractive, log)
	if err != nil {
		return err
	}

	bus, closeBus, err := newBus(cfg, log)
	if err != nil {
		return err
	}
	defer closeBus()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	pool := newPool(cfg, in.proxies, bus)
	if pool.Len() > 0 {
		active := pool.ProbeAll(ctx)
		log.Info().Int("active", active).Int("total", pool.Len()).Msg("proxies probed")
	}

	orch := newOrchestrator(cfg, n, in.messages, pool, bus)
	log.Info().
		Int("accounts", len(in.keys)).
		Int("per_account", n).
		Int("total", len(in.keys)*n).
		Bool("proxies", pool.Len() > 0).
		Msg("configuration summary")

	job := func(ctx context.Context) { logSummary(log, orch.Run(ctx, in.keys)) }
	if once {
		job(ctx)
		return nil
	}

	loop, err := schedule.New(cfg.Run.Schedule, schedule.OnWait(func(next time.Time) {
		log.Info().Time("next_run", next).Dur("in", time.Until(next).Round(time.Second)).Msg("waiting for next run")
	}))
	if err != nil {
		return err
	}
	if err := loop.Run(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}

// resolveCount takes the count from flags or config, then the prompt. Without
// a terminal the original default of one exchange applies.
func resolveCount(cmd *cobra.Command, cfg *config.Config, nonInteractive bool, log zerolog.Logger) (int, error) {
	n := cfg.Run.ExchangesPerAccount
	if n <= 0 && nonInteractive {
		n = 1
	}
	if n <= 0 {
		return promptCount(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), cfg.Run.DailyMax)
	}
	clamped, lowered := cfg.Run.ClampCount(n)
	if lowered {
		log.Warn().Int("requested", n).Int("limit", clamped).Msg("exceeds daily limit, adjusting")
	}
	return clamped, nil
}

func logSummary(log zerolog.Logger, sum orchestrator.Summary) {
	log.Info().
		Int("success", sum.SuccessCount).
		Int("failed", sum.FailCount).
		Int("exchanges", sum.TotalExchanges).
		Msg("run complete")
}
