package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echochat/internal/api"
	"github.com/lalith-99/echochat/internal/auth"
	"github.com/lalith-99/echochat/internal/chat"
	"github.com/lalith-99/echochat/internal/config"
	"github.com/lalith-99/echochat/internal/db"
	"github.com/lalith-99/echochat/internal/middleware"
	"github.com/lalith-99/echochat/internal/observ"
	"github.com/lalith-99/echochat/internal/presence"
	"github.com/lalith-99/echochat/internal/realtime"
	"github.com/lalith-99/echochat/internal/repository"
	"github.com/lalith-99/echochat/internal/repository/memory"
	"github.com/lalith-99/echochat/internal/repository/postgres"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// memoryDSN selects the in-process stores instead of Postgres.
const memoryDSN = "memory://"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Persistence: Postgres, or memory for local runs
	// ---------------------------------------------------------------
	var (
		stores   repository.Stores
		database *db.DB
	)
	if cfg.DatabaseURL == memoryDSN {
		logger.Warn("using in-memory stores; data is lost on exit")
		stores = memory.New().Stores()
	} else {
		database, err = db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()

		if cfg.RunMigrations {
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		stores = postgres.NewStores(database.Pool())
	}

	// ---------------------------------------------------------------
	// 4. Redis: presence mirror and cross-instance fan-out. Optional.
	// ---------------------------------------------------------------
	var (
		rdb    *redis.Client
		mirror *presence.RedisMirror
		broker realtime.Broker
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		mirror = presence.NewRedisMirror(rdb, cfg.PresenceTTL)
		broker = realtime.NewRedisBroker(rdb, logger)
	}

	// ---------------------------------------------------------------
	// 5. Realtime core
	// ---------------------------------------------------------------
	// errCh collects failures that end the process: the HTTP server or the
	// broker subscription.
	errCh := make(chan error, 2)

	hub := realtime.NewHub(broker, logger)
	go func() {
		if err := hub.Run(ctx); err != nil {
			errCh <- fmt.Errorf("broker subscription: %w", err)
		}
	}()

	var registry *presence.Registry
	if mirror != nil {
		registry = presence.NewRegistry(mirror, logger)
		go registry.Heartbeat(ctx, cfg.PresenceTTL/2)
	} else {
		registry = presence.NewRegistry(nil, logger)
	}

	authn := auth.NewAuthenticator(cfg.JWTSecret)
	gate := chat.NewGatekeeper(stores.Rooms, logger)
	engine := chat.NewEngine(stores.Messages, stores.Friends, stores.Rooms, hub, cfg.MaxMessageLength, logger)
	lifecycle := chat.NewManager(stores.Messages, stores.Rooms, hub, chat.LifecycleOptions{
		SenderOnlyRecall: cfg.RecallSenderOnly,
		RoomReadReceipts: cfg.RoomReadReceipts,
	}, logger)

	ws := realtime.NewServer(hub, registry, authn, realtime.NewDispatcher(gate, engine, lifecycle, logger), realtime.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.WSRateLimit,
		RateBurst:      cfg.WSRateBurst,
		MaxFrameBytes:  int64(cfg.MaxMessageLength)*4 + 4096,
	}, logger)

	// ---------------------------------------------------------------
	// 6. HTTP
	// ---------------------------------------------------------------
	var statusReader api.StatusReader
	if mirror != nil {
		statusReader = mirror
	}
	handlers := api.Handlers{
		Auth:     api.NewAuthHandler(stores.Users, cfg.JWTSecret, cfg.TokenTTL, logger),
		Users:    api.NewUserHandler(stores.Users, logger),
		Friends:  api.NewFriendHandler(chat.NewFriends(stores.Users, stores.Friends, stores.FriendRequests, hub, logger), logger),
		Rooms:    api.NewRoomHandler(chat.NewRooms(stores.Rooms, stores.Users, hub, cfg.MaxRoomMembers, logger), logger),
		Messages: api.NewMessageHandler(chat.NewHistory(stores.Messages, stores.Friends, gate), lifecycle, logger),
		Presence: api.NewPresenceHandler(registry, statusReader, logger),
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(observ.GinLogger(logger), gin.Recovery())
	handlers.Register(router, middleware.AuthMiddleware(authn), ws.ServeWS)

	// Readiness checks the backing services; /v1/health only says the
	// process is up.
	router.GET("/v1/ready", func(c *gin.Context) {
		if database != nil {
			if err := database.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
				return
			}
		}
		if !hub.Subscribed() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "broker not subscribed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting EchoChat",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("redis", rdb != nil),
		zap.Bool("recall_sender_only", cfg.RecallSenderOnly),
		zap.Bool("room_read_receipts", cfg.RoomReadReceipts),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve: %w", err)
		}
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		logger.Error("fatal", zap.Error(runErr))
	case <-ctx.Done():
	}

	// ---------------------------------------------------------------
	// 7. Graceful shutdown
	// ---------------------------------------------------------------
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return runErr
}
