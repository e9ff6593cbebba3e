package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"gridexport/internal/config"
	apierrors "gridexport/internal/errors"
	"gridexport/internal/exporter"
	"gridexport/internal/grid"
	"gridexport/internal/infrastructure"
	customMiddleware "gridexport/internal/middleware"
	"gridexport/internal/projection"
	"gridexport/internal/services"
	"gridexport/internal/source"
	"gridexport/internal/storage"
	handlers "gridexport/internal/transport/http"
)

const AppName = "gridexport"

// gridsDebounce collapses the burst of events an editor save produces
const gridsDebounce = 250 * time.Millisecond

var (
	// Version and BuildTime are set at link time
	Version   = "dev"
	BuildTime = ""
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	SystemMetrics *infrastructure.SystemMetrics

	DB            *storage.DB
	Grids         *grid.Registry
	Janitor       *exporter.Janitor
	ExportService *services.ExportService
	HealthService *services.HealthService
	ErrorHandler  *apierrors.ErrorHandler

	closeOnce sync.Once
}

// NewApplication loads the configuration and logger, then builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger)
}

// New wires every component of the application from cfg. Nothing is
// started; call Run.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	if err := cfg.Paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	otelCfg := infrastructure.OTelConfigFrom(cfg.Telemetry)
	otelCfg.ServiceVersion = Version
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		ErrorHandler:  apierrors.NewErrorHandler(logger, false),
	}

	if err := app.initializeServices(); err != nil {
		app.closeResources(context.Background())
		return nil, err
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices opens the catalog database and builds the export pipeline
func (a *Application) initializeServices() error {
	cfg := a.Config

	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create business metrics: %w", err)
	}
	a.Metrics = metrics

	db, err := storage.Open(storage.Options{
		Driver:          storage.Driver(cfg.Database.Driver),
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.DB = db

	// An unreachable database is reported by readiness, not fatal at startup
	if err := db.Ping(context.Background()); err != nil {
		a.Logger.Warn("database not reachable at startup",
			slog.String("driver", cfg.Database.Driver),
			slog.String("error", err.Error()))
	}

	if a.SystemMetrics, err = infrastructure.NewSystemMetrics(a.OTelProviders.Meter, db.Stats); err != nil {
		return fmt.Errorf("failed to create system metrics: %w", err)
	}

	if a.Grids, err = grid.LoadRegistry(cfg.Paths.GridsFile, a.Logger); err != nil {
		return fmt.Errorf("failed to load grid definitions: %w", err)
	}

	dates, err := projection.NewDateNormalizer(cfg.Export.Timezone, cfg.Export.DateFormat)
	if err != nil {
		return fmt.Errorf("invalid export date settings: %w", err)
	}

	files := exporter.NewFileExporter(cfg.Paths.VarDir, a.encoderOptions(), a.Logger)

	if a.Janitor, err = exporter.NewJanitor(files.Dir(), cfg.Export.FileTTL, cfg.Export.CleanupSchedule, a.Logger); err != nil {
		return fmt.Errorf("failed to create export janitor: %w", err)
	}
	a.Janitor.OnRemove(func(ctx context.Context, removed int) {
		a.Metrics.ExportFilesRemoved.Add(ctx, int64(removed),
			metric.WithAttributes(attribute.String("reason", "expired")))
	})

	a.ExportService, err = services.NewExportService(services.ExportDependencies{
		Grids:   a.Grids,
		Columns: storage.NewBookmarkStore(db, a.Grids),
		Fetchers: func(def *grid.Definition, filter storage.Filter) source.PageFetcher {
			return storage.NewGridFetcher(db, def, filter)
		},
		AttributeSets: storage.NewAttributeSetRepository(db),
		Websites:      storage.NewWebsiteRepository(db),
		Files:         files,
		Dates:         dates,
		PageSize:      cfg.Export.PageSize,
		Metrics:       a.Metrics,
		Tracer:        a.OTelProviders.Tracer,
		Logger:        a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create export service: %w", err)
	}

	a.HealthService = services.NewHealthService(Version, BuildTime, services.HealthDependencies{
		Database:  db,
		Grids:     a.Grids,
		Janitor:   a.Janitor,
		ExportDir: files.Dir(),
		Stats:     a.SystemMetrics,
	}, a.Logger)

	a.Logger.Info("Services initialized",
		slog.Int("grids", len(a.Grids.Names())),
		slog.String("database", cfg.Database.Driver),
		slog.Int("page_size", cfg.Export.PageSize),
		slog.String("export_dir", files.Dir()))

	return nil
}

// setupRouter configures the HTTP router. Middleware order:
// RequestID, RealIP, OTel, Logger, Recoverer, SecurityHeaders, CORS, RateLimiter.
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StripSlashes)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics)
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}

	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.getCORSConfig()))
	}

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	a.setupAPIRoutes(r)

	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))

	a.Router = r
}

// setupAPIRoutes configures API endpoints. Export streams and downloads are
// mounted without the request timeout; they end when the data ends.
func (a *Application) setupAPIRoutes(r chi.Router) {
	timeout := customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			handlers.NewHealthHandler(a.HealthService, a.Logger).Routes(r)
		})

		exportHandler := handlers.NewExportHandler(
			a.ExportService,
			customMiddleware.NewValidator(a.Logger),
			a.ErrorHandler,
			a.encoderOptions(),
			a.Logger,
		)
		r.Group(func(r chi.Router) {
			r.Use(a.ErrorHandler.Middleware)
			r.Mount("/export", exportHandler.Routes(timeout))
		})
	})
}

func (a *Application) encoderOptions() exporter.EncoderOptions {
	opts := exporter.DefaultEncoderOptions()
	opts.BOMPrefix = a.Config.Export.CSVBOM
	return opts
}

// getCORSConfig builds the CORS configuration from the security section
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			"X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves HTTP and runs the background workers until ctx is done, then
// shuts everything down gracefully.
func (a *Application) Run(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("address", a.Server.Addr),
		slog.String("level", a.Config.Logging.Level))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Janitor.Run(gctx)
	})

	if a.Config.Export.WatchGrids {
		g.Go(func() error {
			return a.Grids.Watch(gctx, gridsDebounce)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(ctx))
	})

	return g.Wait()
}

// Stop gracefully stops the server and releases resources
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.closeResources(shutdownCtx)

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything New acquired, once. Failures are logged.
func (a *Application) closeResources(ctx context.Context) {
	a.closeOnce.Do(func() { a.release(ctx) })
}

func (a *Application) release(ctx context.Context) {
	if a.SystemMetrics != nil {
		if err := a.SystemMetrics.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing system metrics", slog.String("error", err.Error()))
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing database", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
}
