// Package frontend exposes the client-facing wire protocol: submit, poll,
// download, revoke and list. It never writes request status directly; every
// mutation goes through the store's compare-and-set transition.
package frontend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/metrics"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
	"github.com/imrishuroy/go-polytope-gateway/internal/store"
	"github.com/imrishuroy/go-polytope-gateway/internal/validation"
)

// RequestStore is the slice of the store the frontend needs.
type RequestStore interface {
	Insert(ctx context.Context, req request.Request) error
	Get(ctx context.Context, id string) (*request.Request, error)
	FindByUser(ctx context.Context, userID string) ([]request.Request, error)
	Transition(ctx context.Context, id string, expected, next request.Status, meta store.Meta) error
}

// Stager is the slice of staging the frontend needs.
type Stager interface {
	Get(ctx context.Context, requestID string) (io.ReadCloser, string, int64, error)
	Delete(ctx context.Context, requestID string) error
}

// HandlerConfig groups dependencies for the gateway handlers.
type HandlerConfig struct {
	Store       RequestStore
	Staging     Stager
	Collections collection.Collections
	Auth        Authenticator
	RetryAfter  int // seconds clients should wait between polls
	Log         zerolog.Logger
}

// NewRouter builds the gin engine with all gateway routes registered.
func NewRouter(cfg HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRequestRoutes(r, cfg)
	return r
}

// RegisterRequestRoutes registers the request lifecycle routes.
func RegisterRequestRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5
	}
	h := &handlers{cfg: cfg, validate: validation.New(), log: cfg.Log.With().Str("component", "frontend").Logger()}

	api := r.Group("/api/v1")
	api.POST("/requests/:collection", h.submit)
	api.GET("/requests", h.list)
	// gin requires one wildcard name per segment across methods, so the
	// submit route's :collection carries the request id on GET and DELETE.
	api.GET("/requests/:collection", h.poll)
	api.DELETE("/requests/:collection", h.revoke)
	api.GET("/downloads/:id", h.download)
}

type handlers struct {
	cfg      HandlerConfig
	validate *validatorv10.Validate
	log      zerolog.Logger
}

// submit implements POST /api/v1/requests/{collection}.
func (h *handlers) submit(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.cfg.Auth.Authenticate(c)
	if err != nil {
		code, msg := authError(err)
		respondMessage(c, code, "%s", msg)
		return
	}

	name := c.Param("collection")
	col, ok := h.cfg.Collections[name]
	if !ok {
		respondMessage(c, http.StatusNotFound, "collection %s not found", name)
		return
	}
	if !col.Authorized(user) {
		respondMessage(c, http.StatusForbidden, "not authorized to access collection %s", name)
		return
	}

	var payload validation.SubmitRequest
	if err := validation.BindAndValidate(c, &payload, h.validate); err != nil {
		return // BindAndValidate already wrote a 400
	}
	verb, _ := request.ParseVerb(payload.Verb)

	req := request.New(user, name, verb, payload.Request)
	if payload.URL != "" {
		req.URL = payload.URL // archive pull source
	}
	if err := h.cfg.Store.Insert(ctx, req); err != nil {
		h.log.Error().Err(err).Msg("insert failed")
		respondMessage(c, http.StatusInternalServerError, "error while adding request to request store")
		return
	}

	metrics.RequestsSubmitted.WithLabelValues(name, string(verb)).Inc()
	c.Header("Location", pollingLocation(req.ID))
	c.Header("Retry-After", strconv.Itoa(h.cfg.RetryAfter))
	c.JSON(http.StatusAccepted, buildStatusBody(&req))
}

// poll implements GET /api/v1/requests/{id}.
func (h *handlers) poll(c *gin.Context) {
	user, err := h.cfg.Auth.Authenticate(c)
	if err != nil {
		code, msg := authError(err)
		respondMessage(c, code, "%s", msg)
		return
	}

	req, ok := h.ownedRequest(c, user)
	if !ok {
		return
	}

	switch req.Status {
	case request.StatusProcessed:
		if req.Verb == request.VerbRetrieve {
			if req.Evicted() {
				respondMessage(c, http.StatusGone, "result expired from staging and is no longer available")
				return
			}
			c.Header("Location", downloadLocation(req))
			c.JSON(http.StatusSeeOther, buildStatusBody(req))
			return
		}
		c.JSON(http.StatusOK, buildStatusBody(req))
	case request.StatusFailed:
		respondMessage(c, http.StatusBadRequest, "request failed with error:\n%s", req.UserMessage)
	case request.StatusCancelled:
		respondMessage(c, http.StatusBadRequest, "request was cancelled")
	default: // queued, processing
		c.Header("Location", pollingLocation(req.ID))
		c.Header("Retry-After", strconv.Itoa(h.cfg.RetryAfter))
		c.JSON(http.StatusAccepted, buildStatusBody(req))
	}
}

// download implements GET /api/v1/downloads/{id}.
func (h *handlers) download(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	req, err := h.cfg.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			respondMessage(c, http.StatusNotFound, "request %s not found", id)
			return
		}
		h.log.Error().Err(err).Str("request_id", id).Msg("store lookup failed")
		respondMessage(c, http.StatusInternalServerError, "request store unavailable")
		return
	}
	if req.Verb != request.VerbRetrieve {
		respondMessage(c, http.StatusBadRequest, "request %s is not a download", id)
		return
	}
	if req.Evicted() {
		respondMessage(c, http.StatusGone, "result expired from staging and is no longer available")
		return
	}
	if req.Status != request.StatusProcessed {
		respondMessage(c, http.StatusNotFound, "request %s not ready for download yet", id)
		return
	}

	body, contentType, length, err := h.cfg.Staging.Get(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrGone) {
			respondMessage(c, http.StatusGone, "result expired from staging and is no longer available")
			return
		}
		h.log.Error().Err(err).Str("request_id", id).Msg("staging read failed")
		respondMessage(c, http.StatusInternalServerError, "data staging unavailable")
		return
	}
	defer body.Close()

	if req.MD5 != "" {
		c.Header("Content-MD5", req.MD5)
	}
	c.DataFromReader(http.StatusOK, length, contentType, body, nil)
}

// revoke implements DELETE /api/v1/requests/{id}: transition to cancelled and
// clean up any staged artifact immediately rather than waiting for the sweep.
func (h *handlers) revoke(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.cfg.Auth.Authenticate(c)
	if err != nil {
		code, msg := authError(err)
		respondMessage(c, code, "%s", msg)
		return
	}

	req, ok := h.ownedRequest(c, user)
	if !ok {
		return
	}

	// Retry once: losing the compare-and-set means another actor moved the
	// status under us (broker dispatch); re-read and try from the new state.
	for attempt := 0; attempt < 2; attempt++ {
		if req.Status.Terminal() {
			respondMessage(c, http.StatusForbidden, "request %s is already %s", req.ID, req.Status)
			return
		}
		err = h.cfg.Store.Transition(ctx, req.ID, req.Status, request.StatusCancelled, store.Meta{
			UserMessage: ptr("Request cancelled by user"),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, request.ErrConflict) {
			h.log.Error().Err(err).Str("request_id", req.ID).Msg("revoke failed")
			respondMessage(c, http.StatusInternalServerError, "error while revoking request")
			return
		}
		if req, err = h.cfg.Store.Get(ctx, req.ID); err != nil {
			respondMessage(c, http.StatusNotFound, "request not found")
			return
		}
	}
	if err != nil {
		respondMessage(c, http.StatusConflict, "request is being finalized, try again")
		return
	}

	if err := h.cfg.Staging.Delete(ctx, req.ID); err != nil {
		// The dangling sweep picks the artifact up later.
		h.log.Warn().Err(err).Str("request_id", req.ID).Msg("revocation artifact cleanup failed")
	} else {
		metrics.ArtifactsEvicted.WithLabelValues("revoked").Inc()
	}

	c.JSON(http.StatusOK, gin.H{"status": string(request.StatusCancelled), "message": "request revoked"})
}

// list implements GET /api/v1/requests.
func (h *handlers) list(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.cfg.Auth.Authenticate(c)
	if err != nil {
		code, msg := authError(err)
		respondMessage(c, code, "%s", msg)
		return
	}

	reqs, err := h.cfg.Store.FindByUser(ctx, user.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("list failed")
		respondMessage(c, http.StatusInternalServerError, "request store unavailable")
		return
	}
	if reqs == nil {
		reqs = []request.Request{}
	}
	c.JSON(http.StatusOK, reqs)
}

// ownedRequest loads the request in the path and hides other users' requests
// behind 404, so ids cannot be enumerated.
func (h *handlers) ownedRequest(c *gin.Context, user request.User) (*request.Request, bool) {
	id := c.Param("collection")
	req, err := h.cfg.Store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			respondMessage(c, http.StatusNotFound, "request %s not found", id)
			return nil, false
		}
		h.log.Error().Err(err).Str("request_id", id).Msg("store lookup failed")
		respondMessage(c, http.StatusInternalServerError, "request store unavailable")
		return nil, false
	}
	if req.User.ID != user.ID {
		respondMessage(c, http.StatusNotFound, "request %s not found", id)
		return nil, false
	}
	return req, true
}

func ptr[T any](v T) *T { return &v }
