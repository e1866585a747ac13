package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/milhy545/adaptive-router/internal/api"
	"github.com/milhy545/adaptive-router/internal/config"
	"github.com/milhy545/adaptive-router/internal/services/database"
	"github.com/milhy545/adaptive-router/internal/services/health"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"
	"github.com/milhy545/adaptive-router/internal/services/registry"
	"github.com/milhy545/adaptive-router/internal/services/router"
	"github.com/milhy545/adaptive-router/internal/services/thermal"
	"github.com/milhy545/adaptive-router/internal/services/usage"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

const healthRefreshInterval = 30 * time.Second

// Gateway assembles the router and its collaborators into an HTTP service.
type Gateway struct {
	cfg    *config.Config
	app    *fiber.App
	store  kvstore.Store
	db     *database.DB
	worker *usage.Worker
	router *router.Router
	reg    *registry.Registry
	health *health.Monitor
}

// New wires every service from configuration. Construction is fail-fast:
// a provider, store, or database that cannot be built rejects startup.
func New(cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	configureLogLevel(cfg)

	store, err := kvstore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limit store: %w", err)
	}

	reg, err := registry.New(cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	g := &Gateway{
		cfg:    cfg,
		store:  store,
		reg:    reg,
		health: health.NewMonitor(cfg.Router.Health),
	}

	var recorder router.UsageRecorder
	var usageSvc *usage.Service
	if cfg.Database != nil {
		db, err := database.New(*cfg.Database)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect usage database: %w", err)
		}
		g.db = db

		usageSvc = usage.NewService(db.DB)
		if err := usageSvc.AutoMigrate(); err != nil {
			_ = db.Close()
			_ = store.Close()
			return nil, fmt.Errorf("failed to migrate usage schema: %w", err)
		}
		g.worker = usage.NewWorker(usageSvc, 2, 256)
		recorder = g.worker
	}

	g.router = router.New(reg, g.health, thermal.NewFileAdvisor(cfg.Thermal), recorder)
	g.app = g.buildApp(usageSvc)
	return g, nil
}

// App exposes the fiber app for tests.
func (g *Gateway) App() *fiber.App {
	return g.app
}

// Run starts the server and blocks until a shutdown signal arrives.
func (g *Gateway) Run() error {
	listenAddr := ":" + g.cfg.Server.Port

	fmt.Printf("AdaptiveRouter starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", g.cfg.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   Providers: %d\n", len(g.cfg.Providers))

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go g.health.Run(refreshCtx, healthRefreshInterval, g.reg.Configs())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := g.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		g.cleanup()
		return fmt.Errorf("server error: %w", err)
	}

	fiberlog.Info("Server shutting down gracefully...")
	stopRefresh()
	if err := g.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		g.cleanup()
		return fmt.Errorf("shutdown error: %w", err)
	}

	g.cleanup()
	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

// cleanup flushes pending usage rows and releases storage handles.
func (g *Gateway) cleanup() {
	if g.worker != nil {
		g.worker.Stop()
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			fiberlog.Errorf("Error closing database: %v", err)
		}
	}
	if err := g.store.Close(); err != nil {
		fiberlog.Errorf("Error closing rate limit store: %v", err)
	}
}

func (g *Gateway) buildApp(usageSvc *usage.Service) *fiber.App {
	isProd := g.cfg.IsProduction()

	app := fiber.New(fiber.Config{
		AppName:           "AdaptiveRouter v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		CaseSensitive:     true,
		ServerHeader:      "AdaptiveRouter",
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	// Request id, surfaced in logs and the response header.
	app.Use(func(c *fiber.Ctx) error {
		id := c.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals("request_id", id)
		c.Set("X-Request-ID", id)
		return c.Next()
	})

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:  g.cfg.Server.AllowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, User-Agent, X-Request-ID, X-Request-Timeout",
		AllowMethods:  "GET, POST, OPTIONS",
		MaxAge:        86400,
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
	}))

	routeHandler := api.NewRouteHandler(g.router)
	statusHandler := api.NewStatusHandler(g.router)
	healthHandler := api.NewHealthHandler(g.store, g.db)

	app.Get("/health", healthHandler.HealthCheck)

	v1 := app.Group("/v1")
	v1.Post("/route", routeHandler.Route)
	v1.Get("/providers/status", statusHandler.ProviderStatus)
	v1.Post("/providers/:provider/circuit/reset", statusHandler.ResetCircuit)

	if usageSvc != nil {
		statsHandler := api.NewStatsHandler(usageSvc)
		v1.Get("/usage/stats", statsHandler.UsageStats)
	}

	return app
}

func configureLogLevel(cfg *config.Config) {
	switch cfg.GetNormalizedLogLevel() {
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "warn":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
	}
}
