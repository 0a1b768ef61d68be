package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/backend/internal/api/handler"
	"chatrelay/backend/internal/broker"
	"chatrelay/backend/internal/chat"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/gateway"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// Load .env if present; in production the environment is set externally.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	var logger zerolog.Logger
	if cfg.PrettyLogs {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	db, rdb := setupDependencies(cfg, logger)
	store := storage.NewService(db, rdb)

	ch := broker.NewChannel(cfg.RabbitMQURL, logger)
	defer ch.Close()

	hub := gateway.NewHub(store, logger)
	chatService := chat.NewService(store, ch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	ch.Subscribe(ctx, models.ExchangeChat, models.RoutingKeyNewMessage, models.QueueNewMessage, hub.HandleEvent)

	h := handler.NewHandler(chatService, store, hub, []byte(cfg.JWTSecret), logger)

	r := gin.Default()
	r.GET("/api/token", h.GetToken)

	authed := r.Group("/", h.AuthRequired())
	authed.POST("/api/sendMessage", h.SendMessage)
	authed.GET("/api/viewMessages", h.ViewMessages)
	authed.GET("/api/onlineUsers", h.OnlineUsers)
	authed.GET("/ws", h.ServeWebSocket)

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	ch.Close()
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close redis")
	}
	logger.Info().Msg("server stopped")
}

func setupDependencies(cfg *config.Config, logger zerolog.Logger) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect PostgreSQL")
	}

	if err := db.AutoMigrate(&models.Message{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect Redis")
	}

	logger.Info().Msg("database and redis connections established, migrations complete")
	return db, rdb
}
