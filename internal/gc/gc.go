// Package gc sweeps terminal requests past their retention window and evicts
// staged artifacts under storage pressure.
//
// The ordering invariant throughout: an artifact is deleted no later than its
// tracking record. A record may briefly outlive a cleared artifact (the
// download then reports Gone), but a live download URL must never point at
// deleted data, and a record is never removed before its artifact.
package gc

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/metrics"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
	"github.com/imrishuroy/go-polytope-gateway/internal/staging"
)

// RequestStore is the slice of the store the collector needs.
type RequestStore interface {
	Get(ctx context.Context, id string) (*request.Request, error)
	FindExpired(ctx context.Context, cutoff time.Time) ([]request.Request, error)
	Delete(ctx context.Context, id string) error
	MarkEvicted(ctx context.Context, id string) error
}

// Stager is the slice of staging the collector needs.
type Stager interface {
	Delete(ctx context.Context, requestID string) error
	List(ctx context.Context) ([]staging.Object, error)
}

// Config tunes the collection cycle.
type Config struct {
	Interval  time.Duration
	Retention time.Duration // terminal requests older than this are removed
	// Pressure eviction starts above HighWatermark bytes and stops below
	// LowWatermark bytes. Zero disables eviction.
	HighWatermark int64
	LowWatermark  int64
}

// Collector runs the periodic sweeps.
type Collector struct {
	store   RequestStore
	staging Stager
	cfg     Config
	log     zerolog.Logger
	nowFunc func() time.Time
}

// New assembles a Collector.
func New(st RequestStore, stg Stager, cfg Config, log zerolog.Logger) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark
	}
	return &Collector{
		store:   st,
		staging: stg,
		cfg:     cfg,
		log:     log.With().Str("component", "gc").Logger(),
		nowFunc: time.Now,
	}
}

// Run cycles until the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.log.Info().
		Dur("interval", c.cfg.Interval).
		Dur("retention", c.cfg.Retention).
		Int64("high_watermark", c.cfg.HighWatermark).
		Msg("garbage collector started")

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("garbage collector stopped")
			return
		case <-ticker.C:
			c.Cycle(ctx)
		}
	}
}

// Cycle runs the three sweeps. Each sweep's failure is logged and does not
// block the others; the next cycle retries.
func (c *Collector) Cycle(ctx context.Context) {
	if err := c.SweepExpired(ctx); err != nil {
		c.log.Error().Err(err).Msg("expiry sweep failed")
	}
	if err := c.SweepDangling(ctx); err != nil {
		c.log.Error().Err(err).Msg("dangling sweep failed")
	}
	if err := c.EvictUnderPressure(ctx); err != nil {
		c.log.Error().Err(err).Msg("pressure eviction failed")
	}
}

// SweepExpired removes terminal requests whose last_modified predates the
// retention window: staged artifact first, store record second.
func (c *Collector) SweepExpired(ctx context.Context) error {
	if c.cfg.Retention <= 0 {
		return nil
	}
	cutoff := c.nowFunc().Add(-c.cfg.Retention)
	expired, err := c.store.FindExpired(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, req := range expired {
		// The record must never be removed before its artifact; an artifact
		// deletion failure leaves the record for the next cycle.
		if err := c.staging.Delete(ctx, req.ID); err != nil {
			c.log.Error().Err(err).Str("request_id", req.ID).Msg("artifact delete failed, keeping record")
			continue
		}
		if err := c.store.Delete(ctx, req.ID); err != nil && !errors.Is(err, request.ErrNotFound) {
			c.log.Error().Err(err).Str("request_id", req.ID).Msg("record delete failed")
			continue
		}
		metrics.ArtifactsEvicted.WithLabelValues("expired").Inc()
		c.log.Info().Str("request_id", req.ID).Msg("expired request removed")
	}
	return nil
}

// SweepDangling removes staged objects no download can ever reach: objects
// with no store record (orphaned by crashes), and objects whose record is
// cancelled (a result that finished after the revocation's own cleanup ran,
// or a revocation whose artifact delete failed).
func (c *Collector) SweepDangling(ctx context.Context) error {
	objs, err := c.staging.List(ctx)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		req, err := c.store.Get(ctx, obj.RequestID)
		switch {
		case err == nil:
			if req.Status != request.StatusCancelled {
				continue
			}
		case !errors.Is(err, request.ErrNotFound):
			return err
		}
		if err := c.staging.Delete(ctx, obj.RequestID); err != nil {
			c.log.Error().Err(err).Str("request_id", obj.RequestID).Msg("dangling delete failed")
			continue
		}
		metrics.ArtifactsEvicted.WithLabelValues("dangling").Inc()
		c.log.Info().Str("request_id", obj.RequestID).Msg("dangling artifact removed")
	}
	return nil
}

// EvictUnderPressure deletes the oldest completed artifacts while staging
// usage exceeds the high watermark, marking each record so later downloads
// return Gone instead of a stale URL. Non-terminal requests are never touched.
func (c *Collector) EvictUnderPressure(ctx context.Context) error {
	if c.cfg.HighWatermark <= 0 {
		return nil
	}
	objs, err := c.staging.List(ctx)
	if err != nil {
		return err
	}

	var usage int64
	for _, o := range objs {
		usage += o.Size
	}
	metrics.StagingBytes.Set(float64(usage))
	if usage < c.cfg.HighWatermark {
		return nil
	}
	c.log.Info().Int64("usage", usage).Int64("high_watermark", c.cfg.HighWatermark).Msg("staging over high watermark")

	sort.Slice(objs, func(i, j int) bool { return objs[i].LastModified < objs[j].LastModified })

	for _, obj := range objs {
		if usage < c.cfg.LowWatermark {
			break
		}
		req, err := c.store.Get(ctx, obj.RequestID)
		if err != nil {
			if errors.Is(err, request.ErrNotFound) {
				continue // dangling sweep's problem
			}
			return err
		}
		if !req.Status.Terminal() {
			continue
		}

		if err := c.staging.Delete(ctx, obj.RequestID); err != nil {
			c.log.Error().Err(err).Str("request_id", obj.RequestID).Msg("evict delete failed")
			continue
		}
		if err := c.store.MarkEvicted(ctx, obj.RequestID); err != nil && !errors.Is(err, request.ErrNotFound) {
			c.log.Error().Err(err).Str("request_id", obj.RequestID).Msg("evict mark failed")
		}
		usage -= obj.Size
		metrics.ArtifactsEvicted.WithLabelValues("pressure").Inc()
		c.log.Info().Str("request_id", obj.RequestID).Int64("usage", usage).Msg("artifact evicted under pressure")
	}
	metrics.StagingBytes.Set(float64(usage))
	return nil
}
