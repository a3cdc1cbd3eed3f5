package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
	"github.com/imrishuroy/go-polytope-gateway/internal/broker"
	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/config"
	"github.com/imrishuroy/go-polytope-gateway/internal/metrics"
	"github.com/imrishuroy/go-polytope-gateway/internal/queue"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "broker").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cols, err := collection.Load(cfg.CollectionsFile)
	if err != nil {
		log.Fatalf("failed to load collections: %v", err)
	}

	var emitter *metrics.Emitter
	if cfg.MetricsNamespace != "" {
		emitter = metrics.NewEmitter(clients.CloudWatch, cfg.MetricsNamespace, logger)
	}

	b := broker.New(
		store.New(clients.DynamoDB, cfg.RequestsTable, logger),
		queue.New(clients.SQS, cfg.QueueURL, cfg.LeaseSeconds, cfg.LeaseWaitSeconds),
		cols,
		broker.Config{Interval: cfg.BrokerInterval, MaxQueueSize: cfg.MaxQueueSize},
		emitter,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	b.Run(ctx)
}
