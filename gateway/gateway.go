// Package gateway serves the incident data over HTTP and WebSocket: the
// aggregated incident list, per-call unit and file queries, a staging file
// delete command, Prometheus metrics, and a push channel broadcasting each
// processing pass to connected dashboards.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/incidentwatch/aggregate"
	"github.com/c360/incidentwatch/config"
	"github.com/c360/incidentwatch/errors"
	"github.com/c360/incidentwatch/incident"
	"github.com/c360/incidentwatch/metric"
)

// Gateway is the HTTP surface. It follows the component lifecycle:
// Initialize, Start(ctx), Stop(timeout).
type Gateway struct {
	cfg      config.ServerConfig
	pipeline *aggregate.Pipeline
	registry *metric.MetricsRegistry
	logger   *slog.Logger

	// limiter bounds on-demand reads; each one runs a full aggregation
	// pass under the pipeline lock.
	limiter *rate.Limiter

	hub    *Hub
	server *http.Server

	mu        sync.Mutex
	running   atomic.Bool
	startTime time.Time
}

// NewGateway creates a Gateway over the pipeline.
func NewGateway(cfg config.ServerConfig, pipeline *aggregate.Pipeline, registry *metric.MetricsRegistry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		pipeline: pipeline,
		registry: registry,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ReadRateLimit), cfg.ReadRateBurst),
		hub:      newHub(registry.Metrics.WebsocketClients, logger),
	}
}

// Initialize prepares the gateway.
func (g *Gateway) Initialize() error {
	if g.cfg.Address == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "Initialize", "check address")
	}
	if g.pipeline == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "Initialize", "check pipeline")
	}

	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("/", mux)
	g.server = &http.Server{
		Addr:              g.cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Publisher returns the sink the processing loop should push pass results
// to. Each published list is broadcast to every connected client.
func (g *Gateway) Publisher() *Hub {
	return g.hub
}

// Start begins serving. The listener failure mode is asynchronous; a failed
// bind is logged and the gateway reports itself stopped.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running.Load() {
		return nil // Already running, idempotent
	}
	if g.server == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "Gateway", "Start", "initialize first")
	}

	g.running.Store(true)
	g.startTime = time.Now()

	go func() {
		g.logger.Info("gateway listening", "address", g.cfg.Address)
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server failed", "error", err)
			g.running.Store(false)
		}
	}()
	return nil
}

// Stop drains connections and disconnects WebSocket clients.
func (g *Gateway) Stop(timeout time.Duration) error {
	if !g.running.Load() {
		return nil
	}
	g.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g.hub.close()
	if err := g.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "drain connections")
	}
	g.logger.Info("gateway stopped")
	return nil
}

// RegisterHTTPHandlers registers the gateway routes with the HTTP mux.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc("GET "+prefix+"api/incidents", g.instrument("/api/incidents", g.handleIncidents))
	mux.HandleFunc("GET "+prefix+"api/units", g.instrument("/api/units", g.handleUnits))
	mux.HandleFunc("GET "+prefix+"api/calls/{call}/files", g.instrument("/api/calls/files", g.handleFiles))
	mux.HandleFunc("DELETE "+prefix+"api/files/{name}", g.instrument("/api/files", g.handleDeleteFile))
	mux.HandleFunc("GET "+prefix+"ws", g.hub.handleWebSocket)
	mux.HandleFunc("GET "+prefix+"healthz", g.instrument("/healthz", g.handleHealthz))
	mux.Handle("GET "+prefix+"metrics", g.registry.Handler())
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request counting by path and status.
func (g *Gateway) instrument(path string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		g.registry.Metrics.RequestsTotal.WithLabelValues(path, strconv.Itoa(recorder.status)).Inc()
	}
}

// handleIncidents returns the current incident list from a fresh
// aggregation pass.
func (g *Gateway) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if !g.limiter.Allow() {
		g.writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	groups, err := g.pipeline.View()
	if err != nil {
		g.logger.Error("incident read failed", "error", err)
		g.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if groups == nil {
		groups = []incident.Group{}
	}
	g.writeJSON(w, http.StatusOK, groups)
}

// handleUnits returns every unit on the newest file of one call.
func (g *Gateway) handleUnits(w http.ResponseWriter, r *http.Request) {
	callNumber := r.URL.Query().Get("call")
	if callNumber == "" {
		g.writeError(w, http.StatusBadRequest, "missing call parameter")
		return
	}

	units, err := g.pipeline.UnitsForCall(callNumber)
	if err != nil {
		g.logger.Error("unit read failed", "call_number", callNumber, "error", err)
		g.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if units == nil {
		g.writeError(w, http.StatusNotFound, "call not found")
		return
	}
	g.writeJSON(w, http.StatusOK, units)
}

// handleFiles lists the staged files backing one call.
func (g *Gateway) handleFiles(w http.ResponseWriter, r *http.Request) {
	callNumber := r.PathValue("call")

	names, err := g.pipeline.FilesForCall(callNumber)
	if err != nil {
		g.logger.Error("file listing failed", "call_number", callNumber, "error", err)
		g.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if len(names) == 0 {
		g.writeError(w, http.StatusNotFound, "call not found")
		return
	}
	g.writeJSON(w, http.StatusOK, names)
}

// handleDeleteFile removes one staged file by name.
func (g *Gateway) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := g.pipeline.DeleteFile(name); err != nil {
		if errors.IsInvalid(err) {
			g.writeError(w, http.StatusBadRequest, "invalid file name")
			return
		}
		g.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !g.running.Load() {
		status = "stopped"
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// writeJSON writes a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("response write failed", "error", err)
	}
}

// writeError writes an error response.
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}
	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}
