package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"keyline/internal/client"
	"keyline/internal/config"
	"keyline/internal/infrastructure"
	"keyline/internal/license"
	"keyline/internal/services"
	"keyline/internal/store"
	transport "keyline/internal/transport/http"
	"keyline/internal/updater"
)

// Application is the composed runtime: one license manager, one
// services layer, one local HTTP API, one update scheduler.
type Application struct {
	Config         *config.Config
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
	Manager        *license.Manager
	LicenseService services.LicenseService
	Server         *http.Server
	Scheduler      *updater.Scheduler

	cache *store.MemoryCache
}

// NewApplication builds the application from configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("service", infrastructure.ServiceName),
		slog.String("product_slug", cfg.Licensing.ProductSlug),
		slog.String("product_version", cfg.Licensing.ProductVersion),
	)

	providers, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := app.buildManager(); err != nil {
		return nil, err
	}

	app.LicenseService = services.NewLicenseService(app.Manager, logger)

	router := transport.NewRouter(transport.RouterOptions{
		Service:        app.LicenseService,
		Logger:         logger,
		MetricsHandler: providers.PrometheusHTTP,
	})

	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	app.Scheduler = updater.NewScheduler(app.Manager, cfg.Licensing.UpdateInterval, nil, logger)

	return app, nil
}

// buildManager assembles the stores, the protocol client, and the
// license manager.
func (a *Application) buildManager() error {
	cfg := a.Config.Licensing

	var state store.StateStore
	if cfg.StateFile != "" {
		fileStore, err := store.NewFileStore(cfg.StateFile, cfg.StatePassphrase)
		if err != nil {
			return fmt.Errorf("failed to open state file %s: %w", cfg.StateFile, err)
		}
		state = fileStore
	} else {
		state = store.NewMemoryStore()
	}

	a.cache = store.NewMemoryCache(1000)

	remote := client.New(cfg.APIBaseURL,
		client.WithTimeout(cfg.RequestTimeout),
		client.WithLogger(a.Logger),
	)

	metrics, err := license.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	manager, err := license.NewManager(license.Options{
		Client:          remote,
		State:           state,
		Cache:           a.cache,
		Domain:          cfg.Domain,
		SiteName:        cfg.SiteName,
		ProductSlug:     cfg.ProductSlug,
		ProductVersion:  cfg.ProductVersion,
		ValidTTL:        cfg.ValidTTL,
		InvalidTTL:      cfg.InvalidTTL,
		UpdateTTL:       cfg.UpdateTTL,
		ActivationRPS:   cfg.ActivationRPS,
		ActivationBurst: cfg.ActivationBurst,
		Logger:          a.Logger,
		Metrics:         metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create license manager: %w", err)
	}

	a.Manager = manager
	return nil
}

// Run serves the local API and the update scheduler until the context
// is cancelled or a termination signal arrives.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info("local license API listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	a.Close()
	return err
}

// Close releases resources held by the application.
func (a *Application) Close() {
	if a.cache != nil {
		a.cache.Stop()
	}
	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.Warn("log file close failed", slog.String("error", err.Error()))
	}
}
