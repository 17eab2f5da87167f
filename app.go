package main

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"katalog/internal/assets"
	"katalog/internal/cache"
	"katalog/internal/config"
	"katalog/internal/database"
	"katalog/internal/handlers"
	"katalog/internal/middleware"
	"katalog/internal/models"
	"katalog/internal/repositories"
	"katalog/internal/services"
	"katalog/internal/storage"
	"katalog/pkg/rabbitmq"
)

// App is the wired HTTP application together with the resources it owns.
type App struct {
	Fiber *fiber.App
	Auth  *services.AuthService
	DB    *gorm.DB

	closers []func() error
}

// NewApp connects to every backing service named in cfg and registers all
// routes. Events and caching are optional: they are skipped when their
// address is empty or unreachable.
func NewApp(cfg *config.Config, lg *zap.Logger) (*App, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	a := &App{DB: db}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	store, err := storage.NewDiskStore(cfg.UploadDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	manager := assets.NewManager(store, assets.Options{
		BaseURL:       cfg.AppURL,
		MaxFileSize:   cfg.UploadMaxFileSize,
		VerifyContent: cfg.UploadVerifyContent,
	}, lg)

	var opts []services.Option
	if cfg.RabbitMQURL != "" {
		mq, err := rabbitmq.NewClient(rabbitmq.Config{
			URL:       cfg.RabbitMQURL,
			Exchanges: []string{services.EventsExchange},
		}, lg)
		if err != nil {
			lg.Warn("RabbitMQ unavailable, product events disabled", zap.Error(err))
		} else {
			opts = append(opts, services.WithEvents(mq))
			a.closers = append(a.closers, mq.Close)
		}
	}
	if cfg.RedisAddr != "" {
		c := cache.NewProductCache(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := c.Ping(ctx)
		cancel()
		if err != nil {
			lg.Warn("Redis unavailable, product cache disabled", zap.Error(err))
			c.Close()
		} else {
			opts = append(opts, services.WithCache(c))
			a.closers = append(a.closers, c.Close)
		}
	}

	productService := services.NewProductService(repositories.NewGORMProductRepository(db), manager, lg, opts...)
	a.Auth = services.NewAuthService(cfg.JWTSecret, 24*time.Hour)

	a.Fiber = fiber.New(fiber.Config{
		AppName:      "katalog",
		BodyLimit:    bodyLimit(cfg.UploadMaxFileSize),
		ErrorHandler: handlers.ErrorHandler(lg.Named("http")),
	})
	a.Fiber.Use(recover.New())
	a.Fiber.Use(requestid.New())
	a.Fiber.Use(logger.New())

	a.Fiber.Get("/health", func(c *fiber.Ctx) error {
		status, code := "healthy", fiber.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status, code = "unhealthy", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handlers.NewUploadHandler(manager, lg).RegisterRoutes(a.Fiber)
	apiV1 := a.Fiber.Group("/api/v1")
	handlers.NewProductHandler(productService, lg).RegisterRoutes(apiV1, middleware.AuthRequired(a.Auth, lg))

	return a, nil
}

// Close releases the database, broker and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return errors.Errorf("close app: %v", errs)
	}
	return nil
}

// bodyLimit fits a request carrying every image at the maximum size plus
// the form fields.
func bodyLimit(maxFileSize int64) int {
	return int(maxFileSize)*(models.MaxAdditionalImages+assets.MaxMainImages) + 1<<20
}
