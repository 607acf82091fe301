package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway-service/internal/activity"
	"gateway-service/internal/api/routes"
	"gateway-service/internal/config"
	"gateway-service/internal/database"
	"gateway-service/internal/presence"
	"gateway-service/internal/store"
	"gateway-service/internal/websocket"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting presence gateway")

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Activity recording: presence mutations feed a buffered channel, the
	// recorder forwards to Kafka, the consumer persists rows. Never on the
	// presence hot path.
	writer := activity.NewActivityWriter(cfg.Kafka.Brokers, cfg.Kafka.ActivityTopic)
	defer writer.Close()
	recorder := activity.NewKafkaRecorder(writer)
	go recorder.Run(ctx)

	activityRepo := activity.NewRepository(db)
	consumer := activity.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ActivityTopic, cfg.Kafka.GroupID, activityRepo)
	defer consumer.Close()
	go consumer.Run(ctx)

	presenceStore := store.NewRedisStore(redisClient)
	registry := presence.NewRegistry(presenceStore, recorder)

	hub := websocket.NewHub(registry, presenceStore)
	go hub.Run()

	router := routes.NewRouter(hub, registry, activityRepo, redisClient, db, cfg.JWT.Secret, cfg.Server.AllowedOrigins)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	hub.Stop()
	cancel()
	recorder.Wait()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
