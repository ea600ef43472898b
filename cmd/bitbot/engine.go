package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dicoderin/bitbot/internal/api"
	"github.com/dicoderin/bitbot/internal/config"
	"github.com/dicoderin/bitbot/internal/events"
	"github.com/dicoderin/bitbot/internal/metrics"
	"github.com/dicoderin/bitbot/internal/orchestrator"
	"github.com/dicoderin/bitbot/internal/proxy"
	"github.com/dicoderin/bitbot/internal/retry"
	"github.com/dicoderin/bitbot/internal/session"
	"github.com/dicoderin/bitbot/internal/util"
	"github.com/dicoderin/bitbot/internal/worker"
)

// loadConfig reads --config, then .env and BITBOT_* overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(out io.Writer, cfg *config.Config) zerolog.Logger {
	if out == os.Stdout {
		return util.NewLogger(cfg.App.LogLevel, cfg.App.Pretty)
	}
	out = zerolog.SyncWriter(out)
	if cfg.App.Pretty {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: "02/01/2006 15:04:05"}
	}
	return util.NewLoggerTo(out, cfg.App.LogLevel)
}

// inputs are the line files a run needs.
type inputs struct {
	keys     []string
	messages []string
	proxies  []string
}

// readInputs loads keys and messages, which are required, and proxies, which are not.
func readInputs(cfg *config.Config, log zerolog.Logger) (inputs, error) {
	var in inputs
	var err error
	if in.keys, err = config.ReadLines(cfg.Inputs.KeysFile); err != nil {
		return in, fmt.Errorf("load keys: %w", err)
	}
	if len(in.keys) == 0 {
		return in, fmt.Errorf("no keys in %s", cfg.Inputs.KeysFile)
	}
	if in.messages, err = config.ReadLines(cfg.Inputs.MessagesFile); err != nil {
		return in, fmt.Errorf("load messages: %w", err)
	}
	if len(in.messages) == 0 {
		return in, fmt.Errorf("no messages in %s", cfg.Inputs.MessagesFile)
	}
	if cfg.Inputs.ProxiesFile != "" {
		in.proxies, err = config.ReadLines(cfg.Inputs.ProxiesFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("file", cfg.Inputs.ProxiesFile).Msg("proxy file not found, running direct")
		case err != nil:
			return in, fmt.Errorf("load proxies: %w", err)
		}
	}
	return in, nil
}

// newPool builds the proxy pool with the configured prober.
func newPool(cfg *config.Config, endpoints []string, sink events.Sink) *proxy.Pool {
	prober := proxy.NewHTTPProber(cfg.Proxy.ProbeURL, cfg.Proxy.ProbeTimeout())
	return proxy.NewPool(endpoints, prober,
		proxy.WithSink(sink),
		proxy.WithProbeConcurrency(cfg.Proxy.ProbeConcurrency),
	)
}

// newOrchestrator wires the client, session manager and worker for one process.
func newOrchestrator(cfg *config.Config, count int, messages []string, pool *proxy.Pool, sink events.Sink) *orchestrator.Orchestrator {
	client := api.NewClient(api.Endpoints{
		Verify:   cfg.API.VerifyURL,
		SignIn:   cfg.API.SignInURL,
		Refresh:  cfg.API.RefreshURL,
		Exchange: cfg.API.ExchangeURL,
		Stats:    cfg.API.StatsURL,
	},
		api.WithAPIKey(cfg.API.Key),
		api.WithTokenHeaders(cfg.API.TokenHeaders),
		api.WithTimeouts(cfg.API.RequestTimeout(), cfg.API.ExchangeTimeout()),
	)
	sessions := session.NewManager(client, session.Config{
		Challenge: session.Challenge{
			Domain:  cfg.Challenge.Domain,
			URI:     cfg.Challenge.URI,
			Version: cfg.Challenge.Version,
			ChainID: cfg.Challenge.ChainID,
		},
		UserAgents: cfg.UserAgents,
		Origin:     cfg.API.Origin,
		Referer:    cfg.API.Referer,
	})
	lo, hi := cfg.Run.Pacing()
	wcfg := worker.Config{
		Count:          count,
		DailyMax:       cfg.Run.DailyMax,
		ForbiddenLimit: cfg.Run.ForbiddenLimit,
		Cooldown:       cfg.Run.ForbiddenCooldown(),
		PacingMin:      lo,
		PacingMax:      hi,
	}
	ex := retry.New(retry.WithDelay(cfg.Run.RetryDelay()))
	opts := []worker.Option{worker.WithSink(sink)}
	if pool != nil && pool.Len() > 0 {
		opts = append(opts, worker.WithPool(pool))
	}
	w := worker.New(sessions, client, ex, messages, wcfg, opts...)
	return orchestrator.New(w, orchestrator.WithSink(sink), orchestrator.WithPause(cfg.Run.AccountPause()))
}

// newBus attaches the log sink, the metrics sink and, when configured, the JSONL
// recorder. The returned closer flushes the recorder.
func newBus(cfg *config.Config, log zerolog.Logger) (*events.Bus, func(), error) {
	bus := events.NewBus(events.NewLogSink(log), metrics.NewSink())
	closer := func() {}
	if cfg.Inputs.EventsFile != "" {
		rec, err := events.NewJSONLRecorder(cfg.Inputs.EventsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open events file: %w", err)
		}
		bus.Attach(rec)
		closer = func() {
			if err := rec.Close(); err != nil {
				log.Warn().Err(err).Int("written", rec.Written()).Msg("events file incomplete")
			}
		}
	}
	return bus, closer, nil
}
