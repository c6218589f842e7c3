// Package main runs the call signaling HTTP server with WebSocket push and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/peerline/backend/config"
	"github.com/peerline/backend/internal/auth"
	"github.com/peerline/backend/internal/callstatus"
	"github.com/peerline/backend/internal/livekit"
	"github.com/peerline/backend/internal/middleware"
	"github.com/peerline/backend/internal/realtime"
	"github.com/peerline/backend/internal/signaling"
	"github.com/peerline/backend/internal/worker"
	"github.com/peerline/backend/internal/zego"
	"github.com/peerline/backend/pkg/database"
	"github.com/peerline/backend/pkg/queue"
	"github.com/peerline/backend/pkg/redis"
	"github.com/peerline/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Signaling.Store != "memory" {
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	// Redis is optional: without it push is local to this instance and status jobs are not queued.
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, running single-instance without job queue", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Stores
	var (
		envelopes    signaling.Store
		statusStore  callstatus.Store
		memEnvelopes *signaling.MemoryStore
	)
	if pool != nil {
		envelopes = signaling.NewRepository(pool)
		statusStore = callstatus.NewRepository(pool)
	} else {
		memEnvelopes = signaling.NewMemoryStore()
		envelopes = memEnvelopes
		statusStore = callstatus.NewMemoryStore()
		logger.Warn("using in-memory signaling store; envelopes are lost on restart")
	}

	// Realtime push
	var hub *realtime.Hub
	var jobs callstatus.JobQueue
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(envelopes, logger, pubsub, pubsub)
		jobs = queue.NewQueue(rdb.Client, logger)
	} else {
		hub = realtime.NewHub(envelopes, logger, nil, nil)
	}

	signalingHandler := signaling.NewHandler(envelopes, hub, logger)
	statusHandler := callstatus.NewHandler(statusStore, jobs, logger)
	zegoHandler := zego.NewHandler(cfg.Zego, logger)
	var rooms livekit.RoomService
	if cfg.LiveKit.URL != "" && cfg.LiveKit.APIKey != "" {
		rooms = livekit.NewRoomService(cfg.LiveKit)
	}
	livekitHandler := livekit.NewHandler(rooms, cfg.LiveKit, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "store": cfg.Signaling.Store, "redis": rdb != nil}
		if rdb != nil {
			if err := rdb.Healthy(c.Request.Context()); err != nil {
				response.ServiceUnavailable(c, "redis: "+err.Error())
				return
			}
		}
		response.OK(c, status)
	})

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Signaling relay
		api.POST("/signaling", signalingHandler.Post)
		api.GET("/signaling", signalingHandler.List)

		// Provider credentials and ICE configuration
		api.GET("/calls/ice-servers", func(c *gin.Context) {
			response.OK(c, gin.H{"ice_servers": cfg.WebRTC.Servers()})
		})
		api.GET("/calls/:sessionId/zego-token", zegoHandler.GetToken)
		api.GET("/calls/:sessionId/livekit-token", livekitHandler.GetToken)
		api.DELETE("/calls/:sessionId/livekit-room", middleware.RequireRole(auth.RoleAdmin), livekitHandler.DeleteRoom)

		// Call status callbacks and diagnostics
		api.POST("/calls/status", statusHandler.PostStatus)
		api.GET("/calls/:sessionId/status", middleware.RequireRole(auth.RoleAdmin), statusHandler.History)
		api.POST("/calls/diagnostics", statusHandler.PostDiagnostics)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// The in-memory store lives in this process, so retention runs here; cmd/worker purges Postgres.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	if memEnvelopes != nil {
		go worker.RunRetention(bgCtx, memEnvelopes, time.Duration(cfg.Signaling.RetentionHours)*time.Hour, time.Hour, logger)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Signaling.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
