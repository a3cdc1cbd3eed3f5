// Package worker leases dispatch messages from the queue, executes the
// collection datasource, writes the result to staging and finalizes the
// request.
//
// Delivery is at-least-once: a worker that dies before acking lets the lease
// expire and the message is redelivered. The terminal-state check on every
// delivery guarantees at most one externally visible outcome per request even
// when the underlying fetch ran more than once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/metrics"
	"github.com/imrishuroy/go-polytope-gateway/internal/queue"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
	"github.com/imrishuroy/go-polytope-gateway/internal/staging"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
)

// Result is what a datasource produces for a retrieve. Archive datasources
// push data elsewhere and return a nil Result.
type Result struct {
	Data        io.Reader
	ContentType string
}

// Datasource executes the domain-specific fetch or push for one request.
// Implementations must return an error rather than panic; any error is
// recorded as a failed terminal state with the message preserved.
type Datasource interface {
	Execute(ctx context.Context, req *request.Request) (*Result, error)
}

// RequestStore is the slice of the store the worker needs.
type RequestStore interface {
	Get(ctx context.Context, id string) (*request.Request, error)
	Transition(ctx context.Context, id string, expected, next request.Status, meta store.Meta) error
}

// DispatchQueue is the slice of the queue the worker needs.
type DispatchQueue interface {
	Lease(ctx context.Context) (*queue.Lease, error)
	Ack(ctx context.Context, l *queue.Lease) error
	Nack(ctx context.Context, l *queue.Lease) error
	ExtendLease(ctx context.Context, l *queue.Lease) error
}

// Stager is the slice of staging the worker needs.
type Stager interface {
	Put(ctx context.Context, requestID string, data io.Reader, contentType string) (*staging.PutResult, error)
}

// Config tunes the worker loop.
type Config struct {
	// KeepAliveInterval renews the lease while an execution is in flight.
	// Should be well under the queue's visibility timeout.
	KeepAliveInterval time.Duration
}

// Worker runs the lease-execute-finalize loop.
type Worker struct {
	store       RequestStore
	queue       DispatchQueue
	staging     Stager
	datasources map[string]Datasource // collection name -> datasource
	cfg         Config
	log         zerolog.Logger
}

// New assembles a Worker.
func New(st RequestStore, q DispatchQueue, stg Stager, datasources map[string]Datasource, cfg Config, log zerolog.Logger) *Worker {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	return &Worker{
		store:       st,
		queue:       q,
		staging:     stg,
		datasources: datasources,
		cfg:         cfg,
		log:         log.With().Str("component", "worker").Logger(),
	}
}

// Run leases and processes messages until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Msg("worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopped")
			return
		}
		lease, err := w.queue.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("lease failed")
			time.Sleep(time.Second)
			continue
		}
		if lease == nil {
			continue // long poll timed out, idle
		}
		w.ProcessLease(ctx, lease)
	}
}

// ProcessLease handles one delivered message end to end, always consuming or
// releasing the lease before returning.
func (w *Worker) ProcessLease(ctx context.Context, lease *queue.Lease) {
	id := lease.Message.RequestID
	log := w.log.With().Str("request_id", id).Logger()

	req, err := w.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			// Revoked and garbage collected while the message sat on the queue.
			log.Info().Msg("request no longer exists, ignoring")
			w.ack(ctx, lease)
			return
		}
		// Store outage: release the lease, another attempt will follow.
		log.Error().Err(err).Msg("store lookup failed, releasing lease")
		w.nack(ctx, lease)
		return
	}

	// Duplicate delivery or a request finalized elsewhere: a no-op ack keeps
	// the outcome exactly-once despite at-least-once delivery.
	if req.Status.Terminal() {
		log.Info().Str("status", string(req.Status)).Msg("request already terminal, ignoring")
		w.ack(ctx, lease)
		return
	}

	// The broker normally stamps processing before publishing. A queued status
	// here means its compensation raced an actually delivered message; claim
	// the admission ourselves.
	if req.Status == request.StatusQueued {
		err := w.store.Transition(ctx, id, request.StatusQueued, request.StatusProcessing, store.Meta{})
		if err != nil {
			if errors.Is(err, request.ErrConflict) || errors.Is(err, request.ErrNotFound) {
				log.Info().Msg("request claimed elsewhere, ignoring")
				w.ack(ctx, lease)
				return
			}
			log.Error().Err(err).Msg("claim failed, releasing lease")
			w.nack(ctx, lease)
			return
		}
	}

	execCtx, cancel := context.WithCancel(ctx)
	keepAliveDone := make(chan struct{})
	go w.keepAlive(execCtx, lease, keepAliveDone)

	err = w.execute(execCtx, req)
	cancel()
	<-keepAliveDone

	if err != nil && ctx.Err() != nil {
		// Shutdown mid-execution: hand the request back rather than failing it.
		log.Info().Msg("rescheduling request due to worker shutdown")
		if rerr := w.store.Transition(ctx, id, request.StatusProcessing, request.StatusQueued, store.Meta{}); rerr != nil {
			log.Error().Err(rerr).Msg("failed to reschedule")
		}
		w.nack(context.WithoutCancel(ctx), lease)
		return
	}

	if err != nil {
		w.finalize(ctx, log, id, request.StatusFailed, store.Meta{
			UserMessage: ptr(err.Error()),
		})
	}
	w.ack(ctx, lease)
}

// execute runs the datasource and, on success, stages the result and
// finalizes the request in one processing -> processed transition.
func (w *Worker) execute(ctx context.Context, req *request.Request) error {
	ds, ok := w.datasources[req.Collection]
	if !ok {
		return fmt.Errorf("no datasource configured for collection %s", req.Collection)
	}

	w.log.Info().Str("request_id", req.ID).Str("collection", req.Collection).Msg("processing request")
	result, err := ds.Execute(ctx, req)
	if err != nil {
		return err
	}

	meta := store.Meta{UserMessage: ptr("Success")}
	if result != nil {
		put, err := w.staging.Put(ctx, req.ID, result.Data, result.ContentType)
		if c, ok := result.Data.(io.Closer); ok {
			c.Close()
		}
		if err != nil {
			return fmt.Errorf("stage result: %w", err)
		}
		meta.URL = &put.URL
		meta.ContentLength = &put.ContentLength
		meta.ContentType = &result.ContentType
		meta.MD5 = &put.MD5
	}

	w.finalize(ctx, w.log.With().Str("request_id", req.ID).Logger(), req.ID, request.StatusProcessed, meta)
	return nil
}

// finalize applies the terminal transition. Losing the compare-and-set here
// means the request was cancelled mid-flight; the cancel's own cleanup path
// owns the record, so the loss is logged and dropped.
func (w *Worker) finalize(ctx context.Context, log zerolog.Logger, id string, terminal request.Status, meta store.Meta) {
	err := w.store.Transition(ctx, id, request.StatusProcessing, terminal, meta)
	switch {
	case err == nil:
		metrics.RequestsCompleted.WithLabelValues(string(terminal)).Inc()
		log.Info().Str("status", string(terminal)).Msg("request finalized")
	case errors.Is(err, request.ErrConflict), errors.Is(err, request.ErrNotFound):
		log.Info().Msg("request was cancelled during execution, result discarded")
	default:
		log.Error().Err(err).Msg("finalize failed")
	}
}

func (w *Worker) keepAlive(ctx context.Context, lease *queue.Lease, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.ExtendLease(ctx, lease); err != nil {
				w.log.Warn().Err(err).Msg("lease extension failed")
			}
		}
	}
}

func (w *Worker) ack(ctx context.Context, lease *queue.Lease) {
	if err := w.queue.Ack(ctx, lease); err != nil {
		w.log.Error().Err(err).Msg("ack failed")
	}
}

func (w *Worker) nack(ctx context.Context, lease *queue.Lease) {
	if err := w.queue.Nack(ctx, lease); err != nil {
		w.log.Error().Err(err).Msg("nack failed")
	}
}

func ptr[T any](v T) *T { return &v }
