package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/drophub/drophub/internal/v1/config"
	"github.com/drophub/drophub/internal/v1/credential"
	"github.com/drophub/drophub/internal/v1/health"
	"github.com/drophub/drophub/internal/v1/hub"
	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/middleware"
	"github.com/drophub/drophub/internal/v1/ratelimit"
	"github.com/drophub/drophub/internal/v1/room"
	"github.com/drophub/drophub/internal/v1/tracing"
	"github.com/drophub/drophub/internal/v1/transport"
)

func main() {
	// Load .env for local development; environment variables win.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Optional Redis (rate limiter store + readiness probe) ---
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			slog.Error("Failed to connect to Redis, falling back to in-memory rate limiting", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			slog.Info("Redis connected", "addr", cfg.RedisAddr)
		}
		cancel()
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	limiter, err := ratelimit.New(cfg, redisClient)
	if err != nil {
		slog.Error("Failed to build rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Optional tracing ---
	var shutdownTracer func(context.Context) error
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(context.Background(), "drophub", cfg.OtelCollectorAddr, cfg.DevelopmentMode)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		shutdownTracer = tp.Shutdown
		slog.Info("Tracing enabled", "collector", cfg.OtelCollectorAddr)
	}

	// --- Core wiring ---
	codec, err := credential.NewCodec(cfg.CredentialSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		slog.Error("Failed to build credential codec", "error", err)
		os.Exit(1)
	}

	store := room.NewStore()
	h := hub.New(store, codec, hub.Options{
		Room: room.Settings{
			BlockSize: cfg.BlockSizeBytes,
			InviteTTL: cfg.InviteTTL,
		},
		DefaultCapacity: cfg.RoomCapacity,
	})

	allowedOrigins := parseOrigins(cfg.AllowedOrigins)
	wsServer := transport.NewServer(h, limiter, allowedOrigins)

	// --- HTTP surface ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelCollectorAddr != "" {
		router.Use(otelgin.Middleware("drophub"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	router.GET("/api/v1/ws", wsServer.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(store, redisClient)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: router,
	}

	go func() {
		slog.Info("DropHub server starting", "addr", cfg.BindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Tear down rooms first so every WebSocket drains its close frame.
	h.Shutdown(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if shutdownTracer != nil {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("Failed to shut down tracer", "error", err)
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		}
	}

	slog.Info("Server exiting")
}

// parseOrigins splits the comma-separated origin allowlist, defaulting to
// the local frontend.
func parseOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:3000"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
