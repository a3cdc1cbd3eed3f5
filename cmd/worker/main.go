package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/config"
	"github.com/imrishuroy/go-polytope-gateway/internal/federation"
	"github.com/imrishuroy/go-polytope-gateway/internal/queue"
	"github.com/imrishuroy/go-polytope-gateway/internal/staging"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
	"github.com/imrishuroy/go-polytope-gateway/internal/worker"
)

// buildDatasources maps each configured collection to the datasource that
// serves it.
func buildDatasources(cols collection.Collections, logger zerolog.Logger) (map[string]worker.Datasource, error) {
	datasources := make(map[string]worker.Datasource, len(cols))
	for name, col := range cols {
		switch col.Datasource {
		case "echo":
			datasources[name] = worker.EchoDatasource{}
		case "federated":
			datasources[name] = federation.NewForwarder(*col.Federation, nil, logger)
		default:
			return nil, fmt.Errorf("collection %s: unknown datasource %q", name, col.Datasource)
		}
	}
	return datasources, nil
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "worker").Logger()

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
	datasources, err := buildDatasources(cols, logger)
	if err != nil {
		log.Fatalf("failed to build datasources: %v", err)
	}

	w := worker.New(
		store.New(clients.DynamoDB, cfg.RequestsTable, logger),
		queue.New(clients.SQS, cfg.QueueURL, cfg.LeaseSeconds, cfg.LeaseWaitSeconds),
		staging.New(clients.S3, cfg.StagingBucket, cfg.DownloadURL, logger),
		datasources,
		worker.Config{KeepAliveInterval: cfg.KeepAliveInterval},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	w.Run(ctx)
}
