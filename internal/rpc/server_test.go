package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeRegistry struct {
	registered domain.Device
	touched    []domain.Metrics
	err        error
	getErr     error
}

func (f *fakeRegistry) Register(_ context.Context, d domain.Device) (domain.Device, error) {
	if f.err != nil {
		return domain.Device{}, f.err
	}
	d.ID = "dev-1"
	f.registered = d
	return d, nil
}

func (f *fakeRegistry) Get(_ context.Context, deviceID string) (domain.Device, error) {
	if f.getErr != nil {
		return domain.Device{}, f.getErr
	}
	return domain.Device{ID: deviceID}, nil
}

func (f *fakeRegistry) Touch(_ context.Context, deviceID string, status domain.DeviceStatus, m domain.Metrics) error {
	f.touched = append(f.touched, m)
	return f.err
}

type fakeLiveness struct {
	marked []uint64
	queued domain.Command
	err    error
}

func (f *fakeLiveness) MarkAlive(deviceID string, seq uint64, at time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, seq)
	return nil
}

func (f *fakeLiveness) Dequeue(deviceID string) domain.Command {
	if f.queued.Type == "" {
		return domain.AckCommand()
	}
	return f.queued
}

type fakeSubmitter struct {
	last domain.Submission
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, sub domain.Submission) error {
	f.last = sub
	return f.err
}

type fakeModelStore struct {
	meta   domain.ChunkMetadata
	chunks []domain.Chunk
	err    error
}

func (f *fakeModelStore) Chunks(_ context.Context, modelID string, chunkSize int) (domain.ChunkMetadata, <-chan domain.Chunk, error) {
	if f.err != nil {
		return domain.ChunkMetadata{}, nil, f.err
	}
	ch := make(chan domain.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return f.meta, ch, nil
}

type fakeAggregates struct {
	result domain.AggregateResult
	ok     bool
}

func (f *fakeAggregates) LastAggregate() (domain.AggregateResult, bool) { return f.result, f.ok }

func newTestServer() (*Server, *fakeRegistry, *fakeLiveness, *fakeSubmitter, *fakeModelStore, *fakeAggregates) {
	reg := &fakeRegistry{}
	live := &fakeLiveness{}
	sub := &fakeSubmitter{}
	models := &fakeModelStore{}
	aggs := &fakeAggregates{}
	srv := New(reg, live, sub, models, aggs, fakeClock{t: time.Unix(1000, 0)}, 0)
	return srv, reg, live, sub, models, aggs
}

func TestHandleRegister(t *testing.T) {
	srv, reg, _, _, _, _ := newTestServer()

	body, _ := json.Marshal(registerRequest{Name: "pixel-7", OSVersion: "14"})
	req := httptest.NewRequest(http.MethodPost, "/rpc/devices/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if reg.registered.Name != "pixel-7" {
		t.Errorf("registered.Name = %q, want pixel-7", reg.registered.Name)
	}

	var got domain.Device
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.ID != "dev-1" {
		t.Errorf("response ID = %q, want dev-1", got.ID)
	}
}

func TestHandleHeartbeat_DequeuesCommand(t *testing.T) {
	srv, _, live, _, _, _ := newTestServer()
	live.queued = domain.NewShutdownCommand()

	body, _ := json.Marshal(heartbeatRequest{Seq: 5, Metrics: domain.Metrics{BatteryLevel: 0.5}})
	req := httptest.NewRequest(http.MethodPost, "/rpc/devices/dev-1/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var got domain.Command
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Type != domain.CommandShutdown {
		t.Errorf("command type = %q, want shutdown", got.Type)
	}
	if len(live.marked) != 1 || live.marked[0] != 5 {
		t.Errorf("marked = %v, want [5]", live.marked)
	}
}

func TestHandleHeartbeat_StampsServerMetadata(t *testing.T) {
	srv, _, _, _, _, aggs := newTestServer()
	aggs.result = domain.AggregateResult{AvgAccuracy: 0.875, AvgLoss: 0.25}
	aggs.ok = true

	body, _ := json.Marshal(heartbeatRequest{Seq: 1})
	req := httptest.NewRequest(http.MethodPost, "/rpc/devices/dev-1/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var got domain.Command
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Metadata["server_accuracy"] != "0.875" {
		t.Errorf("metadata[server_accuracy] = %q, want 0.875", got.Metadata["server_accuracy"])
	}
	if got.Metadata["server_loss"] != "0.25" {
		t.Errorf("metadata[server_loss] = %q, want 0.25", got.Metadata["server_loss"])
	}
}

func TestHandleHeartbeat_NoAggregateYetOmitsMetadata(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()

	body, _ := json.Marshal(heartbeatRequest{Seq: 1})
	req := httptest.NewRequest(http.MethodPost, "/rpc/devices/dev-1/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var got domain.Command
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Metadata) != 0 {
		t.Errorf("metadata = %v, want empty before any round has aggregated", got.Metadata)
	}
}

func TestHandleHeartbeat_UnknownDeviceNotFound(t *testing.T) {
	srv, reg, live, _, _, _ := newTestServer()
	reg.getErr = domain.ErrDeviceNotFound

	body, _ := json.Marshal(heartbeatRequest{Seq: 1})
	req := httptest.NewRequest(http.MethodPost, "/rpc/devices/ghost/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(live.marked) != 0 {
		t.Errorf("marked = %v, want no liveness entry created for an unregistered device", live.marked)
	}
}

func TestHandleHeartbeat_StaleSequenceConflict(t *testing.T) {
	srv, _, live, _, _, _ := newTestServer()
	live.err = domain.ErrStaleSequence

	body, _ := json.Marshal(heartbeatRequest{Seq: 1})
	req := httptest.NewRequest(http.MethodPost, "/rpc/devices/dev-1/heartbeat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleSubmit(t *testing.T) {
	srv, _, _, sub, _, _ := newTestServer()

	body, _ := json.Marshal(submitRequest{DeviceID: "dev-1", NumSamples: 128, Blob: []byte("delta")})
	req := httptest.NewRequest(http.MethodPost, "/rpc/jobs/job-1/rounds/3/submissions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	if sub.last.JobID != "job-1" || sub.last.Round != 3 || sub.last.NumSamples != 128 {
		t.Errorf("submission = %+v, want job-1/round 3/128 samples", sub.last)
	}
}

func TestHandleSubmit_RejectsInvalidRound(t *testing.T) {
	srv, _, _, _, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/rpc/jobs/job-1/rounds/abc/submissions", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChunks_StreamsMetadataThenChunks(t *testing.T) {
	srv, _, _, _, models, _ := newTestServer()
	models.meta = domain.ChunkMetadata{ModelID: "abc", Size: 4, TotalChunks: 2, ChunkSize: 2}
	models.chunks = []domain.Chunk{{Index: 0, Bytes: []byte("he")}, {Index: 1, Bytes: []byte("ll")}}

	req := httptest.NewRequest(http.MethodGet, "/rpc/models/abc/chunks", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	dec := json.NewDecoder(rec.Body)
	var meta domain.ChunkMetadata
	if err := dec.Decode(&meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta.ModelID != "abc" || meta.TotalChunks != 2 {
		t.Errorf("metadata = %+v, want model abc with 2 chunks", meta)
	}

	var count int
	for {
		var c domain.Chunk
		if err := dec.Decode(&c); err != nil {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("decoded %d chunks, want 2", count)
	}
}

func TestHandleChunks_NotFound(t *testing.T) {
	srv, _, _, _, models, _ := newTestServer()
	models.err = domain.ErrModelNotFound

	req := httptest.NewRequest(http.MethodGet, "/rpc/models/missing/chunks", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
