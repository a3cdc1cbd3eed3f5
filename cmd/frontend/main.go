package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/config"
	"github.com/imrishuroy/go-polytope-gateway/internal/federation"
	"github.com/imrishuroy/go-polytope-gateway/internal/frontend"
	"github.com/imrishuroy/go-polytope-gateway/internal/staging"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "frontend").Logger()

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

	auth := frontend.MultiAuthenticator{Fallback: frontend.PlainAuthenticator{}}
	if cfg.FederationSecret != "" {
		auth.Federation = &frontend.FederationAuthenticator{Trust: federation.Trust{
			Secret:        cfg.FederationSecret,
			AllowedRealms: cfg.FederationRealms,
			MaxHops:       cfg.FederationMaxHops,
		}}
	}

	r := frontend.NewRouter(frontend.HandlerConfig{
		Store:       store.New(clients.DynamoDB, cfg.RequestsTable, logger),
		Staging:     staging.New(clients.S3, cfg.StagingBucket, cfg.DownloadURL, logger),
		Collections: cols,
		Auth:        auth,
		RetryAfter:  cfg.RetryAfterSeconds,
		Log:         logger,
	})

	// RUN_LOCAL=true serves plain HTTP for development instead of Lambda.
	if os.Getenv("RUN_LOCAL") == "true" {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("running local server")
		if err := r.Run(cfg.ListenAddr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
