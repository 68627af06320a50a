package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"casper-chat/internal/admin"
	"casper-chat/internal/ai"
	"casper-chat/internal/auth"
	"casper-chat/internal/config"
	"casper-chat/internal/database"
	"casper-chat/internal/events"
	"casper-chat/internal/handlers"
	"casper-chat/internal/observability"
	"casper-chat/internal/ratelimit"
	"casper-chat/internal/router"
	"casper-chat/internal/session"
	"casper-chat/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Fatal("Failed to initialize tracing: %v", err)
	}

	// Initialize database
	db := openDatabase(ctx, cfg)

	publisher := events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	audit := events.NewAuditEmitter(publisher, cfg.Telemetry.ServiceName)
	aiLimiter := ratelimit.New(ctx, cfg.Redis.URL, "casper:ratelimit:ai", cfg.AI.RatePerMinute, time.Minute)

	// Initialize services
	authService, err := auth.NewService(db, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize auth: %v", err)
	}

	registry := session.NewRegistry(db)
	registry.Start()

	aiService := ai.NewService(cfg.AI, db, &http.Client{})
	adminService := admin.NewService(db, registry, audit)
	msgRouter := router.New(registry, db, aiService, aiLimiter, adminService)

	// Initialize handlers
	routes := handlers.Routes{
		Auth:      handlers.NewAuthHandlers(authService),
		Chat:      handlers.NewChatHandlers(db, aiService, aiLimiter, adminService),
		Admin:     handlers.NewAdminHandlers(adminService),
		WebSocket: handlers.NewWebSocketHandlers(ctx, authService, registry, msgRouter, cfg),
		Validator: authService,
	}

	// Setup routes
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	engine.Use(observability.HTTPMetricsMiddleware())
	engine.Use(corsMiddleware())
	engine.GET("/healthz", func(c *gin.Context) {
		users, admins := registry.Counts()
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": gin.H{"users": users, "admins": admins}})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	routes.Register(engine)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	logger.Info("Store: %s, events: %s, AI backends: %v", storeMode(cfg), events.PublisherMode(publisher), aiService.Backends())

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"casper-chat": func(ctx context.Context) error {
			logger.Info("Server shutting down...")
			var errs []error
			if err := server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			if err := msgRouter.Wait(ctx); err != nil {
				errs = append(errs, err)
			}
			if err := registry.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
			if closer, ok := aiLimiter.(io.Closer); ok {
				errs = append(errs, closer.Close())
			}
			errs = append(errs, publisher.Close(), db.Close(), shutdownTracing(ctx))
			return errors.Join(errs...)
		},
	})

	exitCode := <-wait
	logger.Info("Server exited with code %d", exitCode)
	os.Exit(exitCode)
}

func openDatabase(ctx context.Context, cfg *config.Config) database.Database {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		return database.NewMemoryDB()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := database.NewPostgresDB(connectCtx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	return db
}

func storeMode(cfg *config.Config) string {
	if cfg.Database.URL == "" {
		return "memory"
	}
	return "postgres"
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}
