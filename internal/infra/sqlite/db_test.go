package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchemaAndPings(t *testing.T) {
	db := openTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestNodeInfo_SetThenGetRoundTrips(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetNodeInfo("node_id", "edge-01"); err != nil {
		t.Fatalf("SetNodeInfo() error = %v", err)
	}
	got, err := db.GetNodeInfo("node_id")
	if err != nil {
		t.Fatalf("GetNodeInfo() error = %v", err)
	}
	if got != "edge-01" {
		t.Errorf("GetNodeInfo() = %q, want edge-01", got)
	}

	if err := db.SetNodeInfo("node_id", "edge-02"); err != nil {
		t.Fatalf("SetNodeInfo() overwrite error = %v", err)
	}
	got, err = db.GetNodeInfo("node_id")
	if err != nil {
		t.Fatalf("GetNodeInfo() error = %v", err)
	}
	if got != "edge-02" {
		t.Errorf("GetNodeInfo() after overwrite = %q, want edge-02", got)
	}
}

func TestNodeInfo_MissingKeyReturnsEmpty(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetNodeInfo("absent")
	if err != nil {
		t.Fatalf("GetNodeInfo() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetNodeInfo() = %q, want empty string", got)
	}
}

func TestDeviceRegistry_RegisterGetListUnregister(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	d := domain.Device{
		ID:           "dev-1",
		Name:         "pixel-7",
		Model:        "pixel-7",
		Status:       domain.DeviceOnline,
		Capabilities: domain.Capabilities{CPUCores: 8},
		RegisteredAt: time.Unix(1000, 0).UTC(),
		LastSeenAt:   time.Unix(1000, 0).UTC(),
	}
	if err := db.Register(ctx, d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := db.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "pixel-7" || got.Capabilities.CPUCores != 8 {
		t.Errorf("Get() = %+v, want name pixel-7 / 8 cores", got)
	}

	list, err := db.List(ctx, domain.DeviceFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List() returned %d devices, want 1", len(list))
	}

	if err := db.Unregister(ctx, "dev-1"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, err := db.Get(ctx, "dev-1"); err != domain.ErrDeviceNotFound {
		t.Errorf("Get() after Unregister error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDeviceRegistry_Touch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	d := domain.Device{ID: "dev-2", Status: domain.DeviceOnline}
	if err := db.Register(ctx, d); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m := domain.Metrics{BatteryLevel: 0.5, Thermal: 0.2}
	if err := db.Touch(ctx, "dev-2", domain.DeviceOnline, m, time.Unix(2000, 0)); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := db.Get(ctx, "dev-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastMetrics.BatteryLevel != 0.5 {
		t.Errorf("LastMetrics.BatteryLevel = %v, want 0.5", got.LastMetrics.BatteryLevel)
	}
}

func TestBlobStore_PutIsContentAddressedAndIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	data := []byte("global-model-bytes")
	first, err := db.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	second, err := db.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() second call error = %v", err)
	}
	if first.ModelID != second.ModelID {
		t.Errorf("ModelID changed across identical Put calls: %q vs %q", first.ModelID, second.ModelID)
	}
	if first.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", first.Size, len(data))
	}
}

func TestBlobStore_GetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Get(context.Background(), "missing"); err != domain.ErrModelNotFound {
		t.Errorf("Get() error = %v, want ErrModelNotFound", err)
	}
}

func TestBlobStore_DeleteMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	if err := db.Delete(context.Background(), "missing"); err != domain.ErrModelNotFound {
		t.Errorf("Delete() error = %v, want ErrModelNotFound", err)
	}
}

func TestBlobStore_ChunksSplitsAndPreservesBytes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	data := []byte("0123456789abcdef")
	artifact, err := db.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	meta, ch, err := db.Chunks(ctx, artifact.ModelID, 5)
	if err != nil {
		t.Fatalf("Chunks() error = %v", err)
	}
	if meta.TotalChunks != 4 {
		t.Fatalf("TotalChunks = %d, want 4", meta.TotalChunks)
	}

	var reassembled []byte
	for c := range ch {
		reassembled = append(reassembled, c.Bytes...)
	}
	if string(reassembled) != string(data) {
		t.Errorf("reassembled chunks = %q, want %q", reassembled, data)
	}
}

func TestBlobStore_ChunksMissingModelReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.Chunks(context.Background(), "missing", 5); err != domain.ErrModelNotFound {
		t.Errorf("Chunks() error = %v, want ErrModelNotFound", err)
	}
}

func TestJobStore_CreateAndListJobs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	spec := domain.JobSpec{
		Architecture:   "mnist-cnn",
		InitialModelID: "abc123",
		TargetRounds:   10,
		Quorum:         3,
		RoundDeadline:  5 * time.Minute,
	}
	job, err := db.CreateJob(ctx, spec)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if job.Status != domain.JobRunning {
		t.Errorf("CreateJob() status = %q, want running", job.Status)
	}

	jobs, err := db.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("ListJobs() returned %d jobs, want 1", len(jobs))
	}
}
