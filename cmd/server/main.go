package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/duragraph/duragraph/cmd/server/config"
	"github.com/duragraph/duragraph/internal/application/service"
	compilerconfig "github.com/duragraph/duragraph/internal/compiler/config"
	compilerpostgres "github.com/duragraph/duragraph/internal/compiler/persistence/postgres"
	"github.com/duragraph/duragraph/internal/infrastructure/cache"
	"github.com/duragraph/duragraph/internal/infrastructure/http/handlers"
	"github.com/duragraph/duragraph/internal/infrastructure/http/middleware"
	"github.com/duragraph/duragraph/internal/infrastructure/messaging"
	"github.com/duragraph/duragraph/internal/infrastructure/messaging/nats"
	"github.com/duragraph/duragraph/internal/infrastructure/monitoring"
	"github.com/duragraph/duragraph/internal/infrastructure/persistence/postgres"
	"github.com/duragraph/duragraph/internal/pkg/eventbus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Println("🚀 DuraGraph Flow Compiler")
	fmt.Printf("📍 Server: %s\n", cfg.ServerAddr())
	fmt.Printf("🗄️  Database: %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	fmt.Printf("📨 NATS: %s\n", cfg.NATS.URL)

	ctx := context.Background()

	// Initialize tracing (no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set)
	shutdownTracing, err := monitoring.InitTracing(ctx, "duragraph-flowc", GetVersion().ShortVersion())
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}

	// Initialize PostgreSQL connection pool
	pool, err := postgres.NewPool(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer postgres.Close(pool)

	fmt.Println("✅ Database connected")

	// Apply pending migrations: the compiled_services table the compiler
	// persists its output into, and the outbox the relay drains.
	migrationsDSN := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Database, cfg.Database.SSLMode,
	)
	if err := postgres.RunMigrations(migrationsDSN, "file://migrations"); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	fmt.Println("✅ Migrations applied")

	// Initialize event bus
	eventBus := eventbus.New()

	// Initialize outbox
	outbox := postgres.NewOutbox(pool)

	// Initialize NATS publisher
	logger := watermill.NewStdLogger(false, false)
	publisher, err := nats.NewPublisher(cfg.NATS.URL, logger)
	if err != nil {
		log.Fatalf("failed to create NATS publisher: %v", err)
	}
	defer publisher.Close()

	fmt.Println("✅ NATS publisher connected")

	// Start outbox relay worker: compiled-service announcements are written
	// to the outbox in the same store as the plan itself, then shipped here.
	outboxRelay := messaging.NewOutboxRelay(outbox, publisher, 1*time.Second, 10)
	go func() {
		if err := outboxRelay.Start(ctx); err != nil {
			log.Printf("outbox relay error: %v", err)
		}
	}()

	fmt.Println("✅ Outbox relay worker started")

	// Start cleanup worker
	cleanupWorker := messaging.NewCleanupWorker(outbox, 1*time.Hour, 7)
	go func() {
		if err := cleanupWorker.Start(ctx); err != nil {
			log.Printf("cleanup worker error: %v", err)
		}
	}()

	fmt.Println("✅ Cleanup worker started")

	// Initialize Prometheus metrics
	metrics := monitoring.NewMetrics("duragraph")

	// Initialize the flow compiler's application service:
	// compiled services persist to Postgres and announce themselves over
	// the outbox so a running worker can hot-reload its plan.
	compiledServiceRepo := compilerpostgres.NewCompiledServiceRepository(pool)
	compileService := service.NewCompileService(
		compilerconfig.Load(),
		compiledServiceRepo,
		messaging.NewOutboxPublisher(outbox, "compiled_service"),
		eventBus,
		metrics,
	)

	// Optionally front the compiled-plan reads with Redis. When the cache is
	// on, a NATS listener invalidates entries as recompiles are announced.
	var compiledReader handlers.CompiledServiceReader = compiledServiceRepo
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisCache, err := cache.NewRedisCache(redisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisCache.Close()
		cachedRepo := cache.NewCachedCompiledServiceRepository(compiledServiceRepo, redisCache, 5*time.Minute)
		compiledReader = cachedRepo

		subscriber, err := nats.NewSubscriber(cfg.NATS.URL, "duragraph-flowc", logger)
		if err != nil {
			log.Fatalf("failed to create NATS subscriber: %v", err)
		}
		defer subscriber.Close()

		planListener := messaging.NewPlanCacheListener(subscriber, cachedRepo)
		go func() {
			if err := planListener.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("plan cache listener error: %v", err)
			}
		}()

		fmt.Println("✅ Redis plan cache connected")
	}

	compileHandler := handlers.NewCompileHandler(compileService, compiledReader)
	systemHandler := handlers.NewSystemHandler(GetVersion().ShortVersion())

	fmt.Println("✅ Flow compiler initialized")

	// Initialize Echo server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler()

	// Middleware
	e.Use(otelecho.Middleware("duragraph-flowc"))
	e.Use(middleware.Logger())
	e.Use(middleware.Metrics(metrics))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.SimpleRateLimit(20, 40))

	// Routes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "healthy",
			"version": GetVersion().ShortVersion(),
		})
	})

	// Prometheus metrics endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// System endpoints
	e.GET("/ok", systemHandler.Ok)
	e.GET("/info", systemHandler.Info)

	// API routes
	api := e.Group("/api/v1")

	// Flow compiler routes
	api.POST("/graphs/:id/compile", compileHandler.Compile)
	api.GET("/graphs/:id/services/:service/compiled", compileHandler.GetCompiled)

	// Start server
	go func() {
		fmt.Printf("🌐 Server listening on %s\n", cfg.ServerAddr())
		if err := e.Start(cfg.ServerAddr()); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n🛑 Shutting down gracefully...")

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	// Stop workers
	outboxRelay.Stop()
	cleanupWorker.Stop()

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}

	fmt.Println("👋 Shutdown complete")
}
