package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"serverlink/internal/api"
	"serverlink/internal/checker"
	"serverlink/internal/config"
	"serverlink/internal/fetch"
	"serverlink/internal/history"
	"serverlink/internal/login"
	"serverlink/internal/resolver"
	"serverlink/internal/rest"
	"serverlink/internal/session"
	"serverlink/internal/storage"
	"serverlink/internal/storage/memory"
	"serverlink/internal/storage/postgres"
	"serverlink/internal/storage/sqlite"
	"serverlink/internal/tap"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
	slog.Info("application shut down gracefully")
}

// closableStore is a Storer owning a connection that must be released.
type closableStore interface {
	storage.Storer
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	case "memory":
		return memory.New(), nil
	default:
		return sqlite.New(ctx, cfg.DatabaseURL)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	// Canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("initializing storage", "driver", cfg.DatabaseDriver)
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.DatabaseDriver, err)
	}
	defer store.Close()

	tracer := otel.GetTracerProvider().Tracer("serverlink")

	// The login flow's client carries no overall timeout so pings wait for
	// the server; the monitor's client is bounded by HTTP_TIMEOUT.
	client := rest.NewClient(rest.Options{
		HTTPClient: &http.Client{},
		RateLimit:  cfg.APIRateLimit,
		Burst:      cfg.APIBurst,
		Tracer:     tracer,
	})
	sess := session.New(client, log.With("component", "session"))
	recorder := history.NewRecorder(store, log.With("component", "history"))
	res := resolver.New(client, fetch.New(cfg.HTTPTimeout), sess, log.With("component", "resolver"),
		resolver.WithObserver(recorder.Observe),
		resolver.WithTracer(tracer),
	)
	signIn := login.NewService(client, sess, tap.NewGuard(cfg.TapInterval), log.With("component", "login"))

	handlers := api.NewHandlers(store, res, signIn, tap.NewGuard(cfg.TapInterval), log.With("component", "api"))
	server := api.NewServer(cfg.HTTPPort, handlers, log)

	var monitor *checker.Checker
	if cfg.MonitorEnabled {
		monitorClient := rest.NewClient(rest.Options{
			HTTPClient: &http.Client{Timeout: cfg.HTTPTimeout},
			RateLimit:  cfg.APIRateLimit,
			Burst:      cfg.APIBurst,
			Tracer:     tracer,
		})
		pingers := func(origin string) checker.Pinger { return monitorClient.WithBaseOrigin(origin) }
		monitor = checker.New(store, pingers, log.With("component", "checker"), cfg.CheckInterval, cfg.MaxConcurrency)
		monitor.Start()
	}
	server.Start()

	if cfg.ServerURL != "" {
		attempt := res.Connect(ctx, cfg.ServerURL)
		log.Info("connecting to configured server", "url", cfg.ServerURL, "attempt_id", attempt.ID)
	}

	log.Info("application is running")

	<-ctx.Done()

	log.Info("shutdown signal received, starting graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	res.Cancel()
	if monitor != nil {
		monitor.Stop()
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}

	return nil
}
