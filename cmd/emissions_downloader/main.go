package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/emissions-api/emissions_downloader/internal/catalog"
	"github.com/emissions-api/emissions_downloader/internal/catalog/dhus"
	"github.com/emissions-api/emissions_downloader/internal/cleanup"
	"github.com/emissions-api/emissions_downloader/internal/config"
	"github.com/emissions-api/emissions_downloader/internal/download"
	"github.com/emissions-api/emissions_downloader/internal/geo"
	"github.com/emissions-api/emissions_downloader/internal/http/rest"
	"github.com/emissions-api/emissions_downloader/internal/logctx"
	"github.com/emissions-api/emissions_downloader/internal/mirror"
	"github.com/emissions-api/emissions_downloader/internal/notifier"
	"github.com/emissions-api/emissions_downloader/internal/schedule"
	"github.com/emissions-api/emissions_downloader/internal/storage"
	"github.com/emissions-api/emissions_downloader/internal/storage/sqlite"
	"github.com/emissions-api/emissions_downloader/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

const (
	serviceName    = "emissions_downloader"
	serviceVersion = "0.1.0"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("emissions downloader starting...", "log_level", cfg.LogLevel, "storage", cfg.Storage)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Catalog Client
	countries, err := geo.DefaultTable()
	if err != nil {
		return fmt.Errorf("failed to load country table: %w", err)
	}

	client := dhus.NewClient(dhus.Options{
		BaseURL:     cfg.Catalog.URL,
		Username:    cfg.Catalog.Username,
		Password:    cfg.Catalog.Password,
		TokenURL:    cfg.Catalog.TokenURL,
		ClientID:    cfg.Catalog.ClientID,
		PageSize:    cfg.Catalog.PageSize,
		RequestRate: cfg.Catalog.RequestRate,
		MaxParallel: cfg.MaxParallel,
	})

	opts := []download.Option{download.WithTelemetry(tel)}

	// =========================================================================
	// Start Database
	var repo storage.DownloadRepository

	if cfg.DBPath != "" {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer closeDB(logger, database)

		repo = sqlite.NewInstrumentedDownloadRepository(database, tel)
		opts = append(opts, download.WithLedger(repo))
	}

	// =========================================================================
	// Start Mirror
	if cfg.MirrorEnabled() {
		m, err := mirror.New(mirror.Config{
			Endpoint:  cfg.Mirror.Endpoint,
			Bucket:    cfg.Mirror.Bucket,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Region:    cfg.Mirror.Region,
			Prefix:    cfg.Mirror.Prefix,
			UseSSL:    cfg.Mirror.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to build mirror: %w", err)
		}

		opts = append(opts, download.WithMirror(m))
	}

	downloader := download.NewDownloader(
		download.Config{Storage: cfg.Storage},
		countries,
		catalog.NewInstrumentedClient(client, tel, client.Name()),
		opts...,
	)

	if !cfg.Scheduled() {
		if _, err := downloader.Download(ctx); err != nil {
			return err
		}

		deleteExpired(ctx, cfg, repo)

		return nil
	}

	return runScheduled(ctx, cfg, downloader, repo, tel)
}

func runScheduled(
	ctx context.Context,
	cfg *config.Config,
	downloader *download.Downloader,
	repo storage.DownloadRepository,
	tel *telemetry.Telemetry,
) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	cycle := func(ctx context.Context) {
		result, err := downloader.Download(ctx)
		if err != nil {
			logger.Error("download cycle failed", "err", err)
			notify(ctx, notif, "❌ Download cycle failed: "+err.Error())

			return
		}

		logger.Info("download cycle finished", "run_id", result.RunID.String(), "products", len(result.Products))
		notify(ctx, notif, fmt.Sprintf("✅ Downloaded %d products for %s into %s", len(result.Products), result.Country.Name, result.Storage))

		deleteExpired(ctx, cfg, repo)
	}

	// =========================================================================
	// Start Scheduler
	scheduler, err := schedule.New(ctx, cfg.Schedule, cycle, logger)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	scheduler.Start()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, repo, scheduler, tel)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for scheduled cycles...",
		"schedule", cfg.Schedule,
		"next_run", scheduler.Next(),
		"retention", cfg.KeepDownloadedFor.String(),
	)

	select {
	case err := <-serverErrors:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if stopErr := scheduler.Stop(shutdownCtx); stopErr != nil {
			logger.Error("failed to stop scheduler", "err", stopErr)
		}

		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests and the running cycle a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := scheduler.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop scheduler: %w", err)
		}

		return nil
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	repo storage.DownloadReadRepository,
	trigger rest.Trigger,
	tel *telemetry.Telemetry,
) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", rest.NewOpsHandler(repo, trigger, tel).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// deleteExpired applies the retention policy when a ledger is configured.
func deleteExpired(ctx context.Context, cfg *config.Config, repo storage.DownloadRepository) {
	if repo == nil || cfg.KeepDownloadedFor <= 0 {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	removed, err := cleanup.DeleteExpiredFiles(ctx, repo, cfg.Storage, cfg.KeepDownloadedFor)
	if err != nil {
		logger.Error("failed to delete expired files", "err", err)

		return
	}

	if removed > 0 {
		logger.Info("deleted expired files", "count", removed)
	}
}

func notify(ctx context.Context, notif notifier.Notifier, content string) {
	if err := notif.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		logger.Error("failed to close database", "err", err)
	}
}
