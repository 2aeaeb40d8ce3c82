// Package rpc implements the device-facing control surface: registration,
// heartbeats, weight-delta submission, and chunked model download. It is
// deliberately separate from internal/api, which only serves read-only
// dashboard queries and operator health/metrics — this is the surface a
// training device actually talks to.
//
// Heartbeats are modeled as request/response rather than a long-lived
// duplex stream: a device posts its sequence number and telemetry and
// gets back the next queued domain.Command (or an ack). This keeps the
// transport on the same net/http + chi stack as the rest of the daemon
// instead of introducing a second, hand-maintained RPC codec — see
// DESIGN.md for the tradeoff against a gRPC streaming transport.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// Registry is the subset of registry.Service the RPC surface needs.
type Registry interface {
	Register(ctx context.Context, d domain.Device) (domain.Device, error)
	Get(ctx context.Context, deviceID string) (domain.Device, error)
	Touch(ctx context.Context, deviceID string, status domain.DeviceStatus, m domain.Metrics) error
}

// Liveness is the subset of domain.LivenessStore the RPC surface needs.
type Liveness interface {
	MarkAlive(deviceID string, seq uint64, at time.Time) error
	Dequeue(deviceID string) domain.Command
}

// Submitter accepts a device's weight-delta submission for an open round.
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) error
}

// ModelStore is the subset of domain.ModelStore needed to serve a
// chunked model download.
type ModelStore interface {
	Chunks(ctx context.Context, modelID string, chunkSize int) (domain.ChunkMetadata, <-chan domain.Chunk, error)
}

// AggregateSource reports the coordinator's most recent round aggregate,
// echoed into every heartbeat response as server telemetry.
type AggregateSource interface {
	LastAggregate() (domain.AggregateResult, bool)
}

// Server is the device-facing RPC HTTP server.
type Server struct {
	registry   Registry
	liveness   Liveness
	submitter  Submitter
	models     ModelStore
	aggregates AggregateSource
	clock      domain.Clock
	chunkBytes int
}

// New builds an RPC Server. chunkBytes is the default chunk size used for
// model downloads when the caller doesn't override it.
func New(registry Registry, liveness Liveness, submitter Submitter, models ModelStore, aggregates AggregateSource, clock domain.Clock, chunkBytes int) *Server {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if chunkBytes <= 0 {
		chunkBytes = domain.DefaultChunkSize
	}
	return &Server{registry: registry, liveness: liveness, submitter: submitter, models: models, aggregates: aggregates, clock: clock, chunkBytes: chunkBytes}
}

// Handler returns the chi router serving the device-facing RPC surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/rpc", func(r chi.Router) {
		r.Post("/devices/register", s.handleRegister)
		r.Post("/devices/{deviceID}/heartbeat", s.handleHeartbeat)
		r.Post("/jobs/{jobID}/rounds/{round}/submissions", s.handleSubmit)
		r.Get("/models/{modelID}/chunks", s.handleChunks)
	})

	return r
}

type registerRequest struct {
	DeviceID     string              `json:"device_id"`
	Name         string              `json:"name"`
	Model        string              `json:"device_model"`
	OSVersion    string              `json:"os_version"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.registry.Register(r.Context(), domain.Device{
		ID:           req.DeviceID,
		Name:         req.Name,
		Model:        req.Model,
		OSVersion:    req.OSVersion,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, d)
}

type heartbeatRequest struct {
	Seq     uint64         `json:"seq"`
	Metrics domain.Metrics `json:"metrics"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.registry.Get(r.Context(), deviceID); err != nil {
		if err == domain.ErrDeviceNotFound {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := s.clock.Now()
	if err := s.liveness.MarkAlive(deviceID, req.Seq, now); err != nil {
		if err == domain.ErrStaleSequence {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.registry.Touch(r.Context(), deviceID, domain.DeviceOnline, req.Metrics); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cmd := s.liveness.Dequeue(deviceID)
	if result, ok := s.aggregates.LastAggregate(); ok {
		if cmd.Metadata == nil {
			cmd.Metadata = make(map[string]string, 2)
		}
		cmd.Metadata["server_accuracy"] = strconv.FormatFloat(result.AvgAccuracy, 'g', -1, 64)
		cmd.Metadata["server_loss"] = strconv.FormatFloat(result.AvgLoss, 'g', -1, 64)
	}
	writeJSON(w, http.StatusOK, cmd)
}

type submitRequest struct {
	DeviceID   string             `json:"device_id"`
	NumSamples int                `json:"num_samples"`
	Metrics    map[string]float64 `json:"metrics"`
	Blob       []byte             `json:"blob"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	round, err := parseRound(chi.URLParam(r, "round"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := domain.Submission{
		DeviceID:   req.DeviceID,
		JobID:      jobID,
		Round:      round,
		Blob:       req.Blob,
		NumSamples: req.NumSamples,
		Metrics:    req.Metrics,
		ReceivedAt: s.clock.Now(),
	}

	if err := s.submitter.Submit(r.Context(), sub); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleChunks streams a model as newline-delimited JSON: one
// ChunkMetadata frame, then one Chunk frame per chunk.
func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")

	meta, chunks, err := s.models.Chunks(r.Context(), modelID, s.chunkBytes)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	if err := enc.Encode(meta); err != nil {
		return
	}
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for chunk := range chunks {
		if err := enc.Encode(chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func parseRound(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, domain.ErrMissingParameter
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, domain.ErrMissingParameter
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{"message": msg},
	})
}
