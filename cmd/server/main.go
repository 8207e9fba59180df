package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/daviddyess/iptoasn/internal/config"
	"github.com/daviddyess/iptoasn/internal/core"
	"github.com/daviddyess/iptoasn/internal/dnsapi"
	"github.com/daviddyess/iptoasn/internal/history"
	"github.com/daviddyess/iptoasn/internal/logging"
	"github.com/daviddyess/iptoasn/internal/version"
	"github.com/daviddyess/iptoasn/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logger, logCloser := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	slog.Info("configuration loaded",
		"version", version.Version,
		"source", cfg.Source.URL,
		"port", cfg.Server.Port,
		"update_interval_minutes", cfg.Updater.IntervalMinutes,
		"dns_enabled", cfg.DNS.Enabled,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder, err := openHistory(ctx, &cfg.History)
	if err != nil {
		slog.Error("failed to open refresh history", "error", err)
		os.Exit(1)
	}

	// Create service with config
	service, err := core.NewService(core.Options{
		Source:          cfg.Source.URL,
		CacheDir:        cfg.Source.CacheDir,
		HTTPTimeout:     cfg.Source.HTTPTimeout,
		MaxDownloadSize: cfg.Source.MaxDownloadSize,
		Malformed:       cfg.Parser.Policy(),
		MaxWarnings:     cfg.Parser.MaxWarnings,
		History:         recorder,
		Logger:          logger,
	})
	if err != nil {
		recorder.Close()
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Nothing can be served until the first dataset is published.
	if err := service.Load(ctx); err != nil {
		service.Close(context.Background())
		slog.Error("initial load failed", "error", err, "code", core.MapError(err).Code)
		os.Exit(1)
	}
	st := service.Stats()
	slog.Info("dataset loaded", "records", st.RecordCount)

	if cfg.Updater.AutoStart {
		if err := service.StartAutoUpdate(cfg.Updater.IntervalMinutes); err != nil {
			slog.Error("failed to schedule updates", "error", err)
			os.Exit(1)
		}
	}

	server := web.NewServer(service, cfg)
	var dnsServer *dnsapi.Server
	if cfg.DNS.Enabled {
		dnsServer = dnsapi.NewServer(service, dnsapi.Config{
			Addr:   cfg.DNS.Addr,
			Zone:   cfg.DNS.Zone,
			TTL:    cfg.DNS.TTL,
			Logger: logger,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if dnsServer != nil {
		g.Go(dnsServer.Start)
	}

	// Graceful shutdown on signal or when a listener fails
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		if dnsServer != nil {
			if err := dnsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("dns shutdown error", "error", err)
			}
		}
		// Lets an in-flight refresh finish before history is closed.
		if err := service.Close(shutdownCtx); err != nil {
			slog.Warn("refresh did not complete in time", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openHistory selects the Postgres recorder when a database URL is
// configured and the in-memory ring otherwise.
func openHistory(ctx context.Context, cfg *config.HistoryConfig) (history.Recorder, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("refresh history kept in memory", "capacity", cfg.Capacity)
		return history.NewMemory(cfg.Capacity), nil
	}

	rec, err := history.OpenPostgres(ctx, cfg.DatabaseURL, cfg.Capacity)
	if err != nil {
		return nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		slog.Info("refresh history in postgres", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("refresh history in postgres")
	}
	return rec, nil
}
