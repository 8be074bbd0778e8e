package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/config"
	"github.com/paperlogin/paperlogin/internal/kvstore"
	"github.com/paperlogin/paperlogin/internal/logincode"
	"github.com/paperlogin/paperlogin/internal/metrics"
	"github.com/paperlogin/paperlogin/internal/middleware"
	"github.com/paperlogin/paperlogin/internal/webverify"
)

// Deps aggregates shared dependencies required to wire routes. Cache and DB
// are only set for the backend in use and are pinged by the health check.
type Deps struct {
	Cfg      config.Config
	Store    kvstore.Store
	Cache    *redis.Client
	DB       *pgxpool.Pool
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// Managers builds the login and web code managers from d.
func Managers(d Deps) (*logincode.Manager, *webverify.Manager) {
	gen := codegen.New()
	login := logincode.NewManager(d.Store, gen, logincode.Config{
		KeyPrefix:   d.Cfg.KeyPrefix,
		CodeLength:  d.Cfg.LoginCodeLength,
		Validity:    d.Cfg.LoginCodeValidity,
		URLTemplate: d.Cfg.WebsiteURL,
		MaxAttempts: d.Cfg.CodeMaxAttempts,
	}, d.Logger, d.Metrics)
	web := webverify.NewManager(d.Store, gen, webverify.Config{
		KeyPrefix:   d.Cfg.KeyPrefix,
		CodeLength:  d.Cfg.WebCodeLength,
		Validity:    d.Cfg.WebCodeValidity,
		MaxAttempts: d.Cfg.CodeMaxAttempts,
	}, d.Logger, d.Metrics)
	return login, web
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Store == nil {
		return fmt.Errorf("a store is required")
	}
	if d.Cfg.ServiceTokenSecret == "" && !d.Cfg.IsDev() {
		return fmt.Errorf("service token secret is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(middleware.RequestID(d.Logger))
	app.Use(middleware.Audit(d.Logger))
	// Inside Audit so panics are logged with the status sent.
	app.Use(recover.New())

	// Health and metrics
	RegisterHealthRoutes(app, d)
	if d.Registry != nil {
		RegisterMetricsRoute(app, d.Registry)
	}

	login, web := Managers(d)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Protected routes
	protected := api.Group("", middleware.ServiceAuth(d.Cfg.ServiceTokenSecret))
	idem := middleware.Idempotency(d.Store, d.Cfg.KeyPrefix, d.Cfg.IdempotencyTTL, d.Logger)
	RegisterLoginCodeRoutes(protected, logincode.NewHandler(login))
	RegisterWebCodeRoutes(protected, webverify.NewHandler(web), idem)

	return nil
}
