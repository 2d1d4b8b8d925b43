package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/itemcf/internal/config"
	"github.com/temcen/itemcf/internal/database"
	"github.com/temcen/itemcf/internal/handlers"
	"github.com/temcen/itemcf/internal/middleware"
	"github.com/temcen/itemcf/internal/services"
	"github.com/temcen/itemcf/internal/validation"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Initialize services
	svc, err := services.New(cfg, app.logger, db, prometheus.DefaultRegisterer)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	schemas, err := validation.NewSchemaValidator()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	// Initialize handlers
	app.handlers = handlers.New(app.logger, svc, schemas)

	// Setup router
	app.setupRouter()

	return app, nil
}

// Start loads the catalog and a model before the server accepts traffic and
// then launches the background workers. A failed bootstrap is not fatal:
// requests are served from the sample catalog or random fallback until a
// training cycle succeeds.
func (a *App) Start(ctx context.Context) {
	bootstrapCtx, cancel := context.WithTimeout(ctx, a.config.Training.BootstrapTimeout)
	defer cancel()

	if err := a.services.Scheduler.Bootstrap(bootstrapCtx); err != nil {
		a.logger.WithError(err).Warn("Bootstrap finished without a live model")
	}

	a.services.Start()
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.services.Stop()

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))

	router.GET("/health", a.handlers.Health.Check)

	if a.config.Monitoring.Enabled {
		router.GET(a.config.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/recommendations/:userId", a.handlers.Recommendation.Get)
		api.POST("/events", a.handlers.Interaction.Track)

		admin := api.Group("/admin")
		{
			admin.GET("/model", a.handlers.Admin.Model)
			admin.POST("/retrain", a.handlers.Admin.Retrain)
			admin.POST("/catalog/refresh", a.handlers.Admin.RefreshCatalog)
		}
	}

	a.router = router
}
