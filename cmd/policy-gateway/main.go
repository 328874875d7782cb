// policy-gateway is the LLM policy gateway daemon.
//
// It sits between applications and model backends, enforcing per-caller
// spending budgets, downgrading to a cheaper backend near exhaustion, and
// running guardrail chains around every call.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/tollgate/policy-gateway/internal/backends"
	"github.com/tollgate/policy-gateway/internal/budget"
	"github.com/tollgate/policy-gateway/internal/config"
	"github.com/tollgate/policy-gateway/internal/gateway"
	"github.com/tollgate/policy-gateway/internal/ledger"
	"github.com/tollgate/policy-gateway/internal/utils"
)

func main() {
	configPath := flag.String("config", "policy-gateway.yaml", "path to the gateway config file")
	flag.Parse()

	// .env is optional; config values reference its variables via ${VAR}.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	setupLogging(cfg.Logging)

	led, err := ledger.Open(cfg.LedgerConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open usage ledger")
	}
	defer func() { _ = led.Close() }()

	tierBackends, err := buildBackends(cfg.Backends)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build backends")
	}
	log.Debug().
		Str("full_model", cfg.Backends.Full.Model).
		Str("full_api_key", utils.MaskKey(cfg.Backends.Full.APIKey)).
		Str("downgraded_model", cfg.Backends.Downgraded.Model).
		Msg("backends configured")

	var registry *prometheus.Registry
	options := []gateway.Option{}
	if cfg.Server.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		options = append(options, gateway.WithMetrics(gateway.NewMetrics(registry)))
	}
	if cfg.Ledger.FailClosedAudit {
		options = append(options, gateway.WithFailClosedAudit())
	}

	gw := gateway.New(led, tierBackends, options...)
	srv := gateway.NewServer(gw, led, cfg.Budget.PolicyFor, registry)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("full_backend", tierBackends[budget.TierFull].Name()).
			Str("downgraded_backend", tierBackends[budget.TierDowngraded].Name()).
			Msg("policy gateway listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
}

// setupLogging configures the zerolog global logger.
func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// buildBackends constructs the two tiers from config.
func buildBackends(cfg config.BackendsConfig) (map[budget.Tier]backends.Backend, error) {
	full, err := buildBackend(cfg.Full)
	if err != nil {
		return nil, err
	}
	downgraded, err := buildBackend(cfg.Downgraded)
	if err != nil {
		return nil, err
	}
	return map[budget.Tier]backends.Backend{
		budget.TierFull:       full,
		budget.TierDowngraded: downgraded,
	}, nil
}

func buildBackend(cfg config.BackendConfig) (backends.Backend, error) {
	switch cfg.Provider {
	case "openai":
		opts := []backends.OpenAIOption{backends.WithTimeout(cfg.Timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, backends.WithBaseURL(cfg.BaseURL))
		}
		return backends.NewOpenAIBackend(cfg.APIKey, cfg.Model, opts...), nil
	case "ollama":
		return backends.NewOllamaBackend(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	}
	return nil, errors.New("unsupported backend provider: " + cfg.Provider)
}
