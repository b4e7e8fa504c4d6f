package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/crewmates-ai/game-master/internal/v1/a2a"
	"github.com/crewmates-ai/game-master/internal/v1/auth"
	"github.com/crewmates-ai/game-master/internal/v1/bus"
	"github.com/crewmates-ai/game-master/internal/v1/config"
	"github.com/crewmates-ai/game-master/internal/v1/debughttp"
	"github.com/crewmates-ai/game-master/internal/v1/game"
	"github.com/crewmates-ai/game-master/internal/v1/health"
	"github.com/crewmates-ai/game-master/internal/v1/hub"
	"github.com/crewmates-ai/game-master/internal/v1/identity"
	"github.com/crewmates-ai/game-master/internal/v1/logging"
	"github.com/crewmates-ai/game-master/internal/v1/middleware"
	"github.com/crewmates-ai/game-master/internal/v1/ratelimit"
	"github.com/crewmates-ai/game-master/internal/v1/shipmap"
	"github.com/crewmates-ai/game-master/internal/v1/tasks"
	"github.com/crewmates-ai/game-master/internal/v1/tracing"
)

const serviceVersion = "1.0.0"

// reapInterval is how often ended sessions are checked for removal.
const reapInterval = 30 * time.Second

func main() {
	// Load .env for local development; running from the repo root or the
	// binary directory both work.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Warn(ctx, "running in DEVELOPMENT MODE, debug routes enabled")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Tracing is opt-in; without a collector there is nothing to export.
	var tracerShutdown func(context.Context) error
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.Init(ctx, "game-master", cfg.OtelCollectorAddr)
		if err != nil {
			logging.Error(ctx, "failed to initialize tracing, continuing without", zap.Error(err))
		} else {
			tracerShutdown = tp.Shutdown
			logging.Info(ctx, "tracing initialized", zap.String("collector", cfg.OtelCollectorAddr))
		}
	}

	// Redis backs the rate-limiter store and the event mirror when enabled.
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "failed to connect to Redis, running in single-instance mode", zap.Error(err))
			busService = nil
		}
	}

	registry := identity.NewRegistryClient(cfg.RegistryEndpoint)
	verifier := auth.NewVerifier(registry)

	ship := shipmap.New()
	catalog := tasks.NewCatalog()
	eventHub := hub.New()

	// The engine emits under the session lock; delivery must not block.
	// Broadcast only enqueues, and the mirror swallows Redis failures.
	onEvent := func(e game.Event) {
		eventHub.Broadcast(e)
		busService.MirrorEvent(ctx, e)
	}

	manager := game.NewManager(game.Settings{
		MinPlayers:        cfg.Game.MinPlayers,
		MaxPlayers:        cfg.Game.MaxPlayers,
		ImposterRatio:     cfg.Game.ImposterRatio,
		TaskCount:         cfg.Game.TaskCount,
		KillCooldown:      cfg.Game.KillCooldown,
		DiscussionTime:    cfg.Game.DiscussionTime,
		VotingTime:        cfg.Game.VotingTime,
		EmergencyMeetings: cfg.Game.EmergencyMeetings,
		LobbyCountdown:    cfg.Game.LobbyCountdown,
	}, ship, catalog, onEvent)
	manager.StartReaper(reapInterval, cfg.SessionReapGrace)

	rpc := a2a.NewServer(verifier, manager, eventHub)

	limiter, err := ratelimit.NewRateLimiter(cfg, busService.Client())
	if err != nil {
		logging.Fatal(ctx, "failed to create rate limiter", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if tracerShutdown != nil {
		router.Use(otelgin.Middleware("game-master"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOriginList()
	router.Use(cors.New(corsConfig))

	card := a2a.NewAgentCard(cfg.PublicURL, serviceVersion)
	router.GET("/.well-known/agent-card.json", a2a.ServeCard(card))
	router.POST("/a2a", limiter.Middleware(), rpc.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var redisPinger health.Pinger
	if busService != nil {
		redisPinger = busService
	}
	healthHandler := health.NewHandler(registry, redisPinger, manager, eventHub)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	if cfg.DevelopmentMode {
		debughttp.NewHandler(manager, ship).Register(router)
		router.GET("/ws/tap/:sessionId", func(c *gin.Context) {
			eventHub.ServeTap(c.Writer, c.Request, c.Param("sessionId"))
		})
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "game master listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "manager shutdown failed", zap.Error(err))
	}
	eventHub.Shutdown()

	if busService != nil {
		if err := busService.Close(); err != nil {
			logging.Error(ctx, "failed to close Redis connection", zap.Error(err))
		}
	}
	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logging.Error(ctx, "tracer shutdown failed", zap.Error(err))
		}
	}

	logging.Info(ctx, "server exiting")
}
