// Package config loads gateway configuration from the environment. A .env
// file, when present, seeds the environment for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the gateway processes read at startup.
type Config struct {
	// Shared infrastructure
	RequestsTable    string // DynamoDB table holding request records
	QueueURL         string // SQS dispatch queue
	StagingBucket    string // S3 bucket for result artifacts
	DownloadURL      string // public base URL under which artifacts are served
	CollectionsFile  string // path to the collections JSON document
	MetricsNamespace string // CloudWatch namespace, empty disables emission

	// Broker
	BrokerInterval time.Duration
	MaxQueueSize   int

	// Worker
	LeaseSeconds      int32 // SQS visibility timeout
	LeaseWaitSeconds  int32 // SQS long-poll duration
	KeepAliveInterval time.Duration

	// Garbage collector
	GCInterval    time.Duration
	Retention     time.Duration
	HighWatermark int64
	LowWatermark  int64

	// Frontend
	ListenAddr        string
	RetryAfterSeconds int
	FederationSecret  string
	FederationRealms  []string
	FederationMaxHops int
}

// Load reads the configuration, applying defaults for everything optional.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		RequestsTable:     getEnv("REQUESTS_TABLE", "requests"),
		QueueURL:          os.Getenv("DISPATCH_QUEUE_URL"),
		StagingBucket:     getEnv("STAGING_BUCKET", "polytope-staging"),
		DownloadURL:       getEnv("DOWNLOAD_URL", "../downloads"),
		CollectionsFile:   getEnv("COLLECTIONS_FILE", "collections.json"),
		MetricsNamespace:  os.Getenv("CLOUDWATCH_NAMESPACE"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		FederationSecret:  os.Getenv("FEDERATION_SECRET"),
		FederationMaxHops: 3,
	}

	var err error
	if cfg.BrokerInterval, err = getDuration("BROKER_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxQueueSize, err = getInt("BROKER_MAX_QUEUE_SIZE", 40); err != nil {
		return nil, err
	}
	lease, err := getInt("LEASE_SECONDS", 120)
	if err != nil {
		return nil, err
	}
	cfg.LeaseSeconds = int32(lease)
	wait, err := getInt("LEASE_WAIT_SECONDS", 20)
	if err != nil {
		return nil, err
	}
	cfg.LeaseWaitSeconds = int32(wait)
	if cfg.KeepAliveInterval, err = getDuration("KEEP_ALIVE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.GCInterval, err = getDuration("GC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Retention, err = getDuration("RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.HighWatermark, err = getBytes("STAGING_HIGH_WATERMARK", 10<<30); err != nil {
		return nil, err
	}
	if cfg.LowWatermark, err = getBytes("STAGING_LOW_WATERMARK", 8<<30); err != nil {
		return nil, err
	}
	if cfg.RetryAfterSeconds, err = getInt("RETRY_AFTER_SECONDS", 5); err != nil {
		return nil, err
	}
	if hops, err := getInt("FEDERATION_MAX_HOPS", 3); err == nil {
		cfg.FederationMaxHops = hops
	} else {
		return nil, err
	}
	if realms := os.Getenv("FEDERATION_ALLOWED_REALMS"); realms != "" {
		cfg.FederationRealms = strings.Split(realms, ",")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// getBytes parses sizes like "10G", "512M", "100K" or a plain byte count.
func getBytes(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	mult := int64(1)
	switch raw[len(raw)-1] {
	case 'K', 'k':
		mult = 1 << 10
		raw = raw[:len(raw)-1]
	case 'M', 'm':
		mult = 1 << 20
		raw = raw[:len(raw)-1]
	case 'G', 'g':
		mult = 1 << 30
		raw = raw[:len(raw)-1]
	case 'T', 't':
		mult = 1 << 40
		raw = raw[:len(raw)-1]
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v * mult, nil
}
