package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
	"github.com/imrishuroy/go-polytope-gateway/internal/config"
	"github.com/imrishuroy/go-polytope-gateway/internal/gc"
	"github.com/imrishuroy/go-polytope-gateway/internal/staging"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "gc").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	collector := gc.New(
		store.New(clients.DynamoDB, cfg.RequestsTable, logger),
		staging.New(clients.S3, cfg.StagingBucket, cfg.DownloadURL, logger),
		gc.Config{
			Interval:      cfg.GCInterval,
			Retention:     cfg.Retention,
			HighWatermark: cfg.HighWatermark,
			LowWatermark:  cfg.LowWatermark,
		},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	collector.Run(ctx)
}
