package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"bookstock/internal/app"
	"bookstock/internal/config"
	"bookstock/internal/server"
	"bookstock/internal/util"
	"bookstock/pkg/events"
	"bookstock/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		minioStore, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		cancel()
		if err != nil {
			log.Fatalf("failed to init batch archive: %v", err)
		}
		objects = minioStore
	}

	var publisher events.Publisher
	if cfg.RabbitURL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.RabbitURL, cfg.MovementQueue)
		if err != nil {
			log.Fatalf("failed to init movement publisher: %v", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Objects:     objects,
		Events:      publisher,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                    appCore,
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		BulkRateLimitPerMinute: cfg.BulkRateLimitPerMinute,
		TrustForwardedHeaders:  cfg.TrustForwardedHeaders,
		MaxUploadBytes:         cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("inventory server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
