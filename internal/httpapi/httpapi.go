// Package httpapi exposes an engine over HTTP: sample ingress, a state
// snapshot, Prometheus metrics and a health check.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/stampsync/internal/engine"
	"github.com/roach88/stampsync/internal/ir"
)

// Pinger reports whether a backing store is reachable. *store.Store
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers serves one engine.
type Handlers struct {
	engine   *engine.Engine
	gatherer prometheus.Gatherer
	store    Pinger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithGatherer serves /metrics from g. Without it /metrics is not routed.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handlers) {
		h.gatherer = g
	}
}

// WithPinger makes /healthz check the store.
func WithPinger(p Pinger) Option {
	return func(h *Handlers) {
		h.store = p
	}
}

// NewHandlers creates handlers for eng.
func NewHandlers(eng *engine.Engine, opts ...Option) *Handlers {
	h := &Handlers{engine: eng}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter builds a gin engine with recovery, request logging and every
// route registered.
//
// Endpoints:
//
//	POST /v1/streams/:stream/samples - Submit a sample
//	GET  /v1/state                   - Engine snapshot
//	GET  /metrics                    - Prometheus metrics
//	GET  /healthz                    - Health check
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	RegisterRoutes(router, h)
	return router
}

// RegisterRoutes registers every endpoint on r.
func RegisterRoutes(r gin.IRouter, h *Handlers) {
	v1 := r.Group("/v1")
	v1.POST("/streams/:stream/samples", h.HandleSubmit)
	v1.GET("/state", h.HandleState)

	r.GET("/healthz", h.HandleHealth)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// SampleRequest is the body of POST /v1/streams/:stream/samples.
type SampleRequest struct {
	Stamp   *int64      `json:"stamp"`
	Payload ir.IRObject `json:"payload"`
}

// SubmitResponse acknowledges an enqueued sample.
type SubmitResponse struct {
	Stream string `json:"stream"`
	Stamp  int64  `json:"stamp"`
	Queued int    `json:"queued"`
}

// ErrorResponse is returned with every 4xx and 5xx.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	RunID    string `json:"run_id"`
	Topology string `json:"topology"`
	Error    string `json:"error,omitempty"`
}

// HandleSubmit enqueues one sample for the stream named in the path.
// Responds 202 when enqueued, 400 on a bad body, 404 for an unknown stream
// and 503 once the engine has stopped.
func (h *Handlers) HandleSubmit(c *gin.Context) {
	stream := c.Param("stream")

	arrival, err := decodeSample(c, stream)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.engine.Submit(arrival); err != nil {
		var rtErr *engine.RuntimeError
		code := ""
		if errors.As(err, &rtErr) {
			code = string(rtErr.Code)
		}
		switch {
		case engine.IsUnknownStreamError(err):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: code})
		case engine.IsStoppedError(err):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: code})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: code})
		}
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		Stream: stream,
		Stamp:  arrival.Stamp,
		Queued: h.engine.QueueLen(),
	})
}

// decodeSample binds the request body. IRObject decodes payload numbers
// exactly and rejects floats, so no decoder flags are needed.
func decodeSample(c *gin.Context, stream string) (ir.Arrival, error) {
	var req SampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return ir.Arrival{}, fmt.Errorf("invalid body: %w", err)
	}
	if req.Stamp == nil {
		return ir.Arrival{}, fmt.Errorf("stamp is required")
	}
	payload := req.Payload
	if payload == nil {
		payload = ir.IRObject{}
	}
	return ir.Arrival{Stream: stream, Stamp: *req.Stamp, Payload: payload}, nil
}

// HandleState returns the engine snapshot.
func (h *Handlers) HandleState(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

// HandleHealth reports 200 when the store (if any) answers a ping.
func (h *Handlers) HandleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:   "ok",
		RunID:    h.engine.RunID(),
		Topology: h.engine.Topology().Name,
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
