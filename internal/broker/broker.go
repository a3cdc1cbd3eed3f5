// Package broker polls the request store for queued requests, applies
// quality-of-service admission control, and dispatches admitted requests onto
// the queue.
//
// Multiple broker replicas may run concurrently. Correctness relies solely on
// the store's conditional writes: the queued -> processing transition is a
// compare-and-set, so a request raced by another broker (or by a concurrent
// revocation) is silently dropped from the batch rather than double-dispatched.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/metrics"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
)

// RequestStore is the slice of the store the broker needs.
type RequestStore interface {
	Find(ctx context.Context, status request.Status, collection string) ([]request.Request, error)
	Transition(ctx context.Context, id string, expected, next request.Status, meta store.Meta) error
}

// DispatchQueue is the slice of the queue the broker needs.
type DispatchQueue interface {
	Publish(ctx context.Context, requestID string) error
	Depth(ctx context.Context) (int, error)
}

// Config tunes the scheduling cycle.
type Config struct {
	Interval time.Duration
	// MaxQueueSize skips a cycle when the queue already holds this many
	// undelivered messages (roughly the worker replica count). Zero disables
	// the check.
	MaxQueueSize int
}

// Broker runs the admission-controlled dispatch cycle.
type Broker struct {
	store       RequestStore
	queue       DispatchQueue
	collections collection.Collections
	cfg         Config
	emitter     *metrics.Emitter
	log         zerolog.Logger
}

// New assembles a Broker.
func New(st RequestStore, q DispatchQueue, cols collection.Collections, cfg Config, emitter *metrics.Emitter, log zerolog.Logger) *Broker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Broker{
		store:       st,
		queue:       q,
		collections: cols,
		cfg:         cfg,
		emitter:     emitter,
		log:         log.With().Str("component", "broker").Logger(),
	}
}

// Run cycles until the context is cancelled. Store or queue outages fail the
// current cycle only; the next tick retries.
func (b *Broker) Run(ctx context.Context) {
	b.log.Info().Dur("interval", b.cfg.Interval).Msg("broker started")
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("broker stopped")
			return
		case <-ticker.C:
			if err := b.Cycle(ctx); err != nil {
				b.log.Error().Err(err).Msg("scheduling cycle failed")
			}
		}
	}
}

// Cycle performs one poll-admit-dispatch pass.
func (b *Broker) Cycle(ctx context.Context) error {
	if b.cfg.MaxQueueSize > 0 {
		depth, err := b.queue.Depth(ctx)
		if err != nil {
			return err
		}
		if depth >= b.cfg.MaxQueueSize {
			b.log.Info().Int("depth", depth).Msg("queue is full, skipping cycle")
			return nil
		}
	}

	candidates, err := b.store.Find(ctx, request.StatusQueued, "")
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	// Admission counts are a pure function of a point-in-time store snapshot,
	// never in-memory state shared across replicas.
	active, err := b.store.Find(ctx, request.StatusProcessing, "")
	if err != nil {
		return err
	}

	admitted, deferred := Admit(candidates, active, b.collections)
	for _, col := range deferred {
		metrics.RequestsDeferred.WithLabelValues(col).Inc()
	}

	dispatched := 0
	for _, req := range admitted {
		if err := b.dispatch(ctx, req); err != nil {
			// A single candidate's failure does not abort the batch.
			b.log.Error().Err(err).Str("request_id", req.ID).Msg("dispatch failed")
			continue
		}
		dispatched++
	}

	if dispatched > 0 {
		b.emitter.Emit(ctx, "RequestsDispatched", float64(dispatched), nil)
	}
	return nil
}

// dispatch stamps the admission and publishes the request id. The loser of a
// concurrent compare-and-set (another broker replica, or a revocation) drops
// the candidate silently: it was already handled elsewhere.
func (b *Broker) dispatch(ctx context.Context, req request.Request) error {
	err := b.store.Transition(ctx, req.ID, request.StatusQueued, request.StatusProcessing, store.Meta{})
	if err != nil {
		if errors.Is(err, request.ErrConflict) || errors.Is(err, request.ErrNotFound) {
			b.log.Debug().Str("request_id", req.ID).Msg("candidate already handled elsewhere")
			return nil
		}
		return err
	}

	if err := b.queue.Publish(ctx, req.ID); err != nil {
		// The request would otherwise be stuck in processing with no message
		// on the queue, so compensate by handing it back to the next cycle.
		if rerr := b.store.Transition(ctx, req.ID, request.StatusProcessing, request.StatusQueued, store.Meta{}); rerr != nil {
			b.log.Error().Err(rerr).Str("request_id", req.ID).Msg("failed to requeue after publish failure")
		}
		return err
	}

	metrics.RequestsDispatched.WithLabelValues(req.Collection).Inc()
	b.log.Info().Str("request_id", req.ID).Str("collection", req.Collection).Msg("request dispatched")
	return nil
}
