package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

type fakeJobStore struct {
	jobs []domain.TrainingJob
	err  error
}

func (f *fakeJobStore) CreateJob(context.Context, domain.JobSpec) (domain.TrainingJob, error) {
	return domain.TrainingJob{}, nil
}
func (f *fakeJobStore) GetJob(_ context.Context, jobID string) (domain.TrainingJob, error) {
	for _, j := range f.jobs {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return domain.TrainingJob{}, domain.ErrJobNotFound
}
func (f *fakeJobStore) ListJobs(context.Context) ([]domain.TrainingJob, error) { return f.jobs, f.err }
func (f *fakeJobStore) UpdateJobStatus(context.Context, string, domain.JobStatus, int) error {
	return nil
}
func (f *fakeJobStore) CreateRound(context.Context, domain.Round) error { return nil }
func (f *fakeJobStore) GetRound(context.Context, domain.RoundKey) (domain.Round, error) {
	return domain.Round{}, nil
}
func (f *fakeJobStore) UpdateRoundStatus(context.Context, domain.RoundKey, domain.RoundStatus) error {
	return nil
}
func (f *fakeJobStore) SetRoundAggregate(context.Context, domain.RoundKey, string) error { return nil }
func (f *fakeJobStore) PutSubmission(context.Context, domain.Submission) error           { return nil }
func (f *fakeJobStore) ListSubmissions(context.Context, domain.RoundKey) ([]domain.Submission, error) {
	return nil, nil
}

type fakeDeviceRegistry struct {
	devices []domain.Device
	err     error
}

func (f *fakeDeviceRegistry) Register(_ context.Context, d domain.Device) (domain.Device, error) {
	return d, nil
}
func (f *fakeDeviceRegistry) Unregister(context.Context, string) error { return nil }
func (f *fakeDeviceRegistry) Get(_ context.Context, deviceID string) (domain.Device, error) {
	for _, d := range f.devices {
		if d.ID == deviceID {
			return d, nil
		}
	}
	return domain.Device{}, domain.ErrDeviceNotFound
}
func (f *fakeDeviceRegistry) List(context.Context, domain.DeviceFilter) ([]domain.Device, error) {
	return f.devices, f.err
}
func (f *fakeDeviceRegistry) Touch(context.Context, string, domain.DeviceStatus, domain.Metrics) error {
	return nil
}

func TestHandleListJobs(t *testing.T) {
	jobs := &fakeJobStore{jobs: []domain.TrainingJob{{JobID: "job-1", Status: domain.JobRunning}}}
	srv := NewServer(jobs, &fakeDeviceRegistry{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetJob_NotFound(t *testing.T) {
	srv := NewServer(&fakeJobStore{}, &fakeDeviceRegistry{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListDevices(t *testing.T) {
	devices := &fakeDeviceRegistry{devices: []domain.Device{{ID: "dev-1"}}}
	srv := NewServer(&fakeJobStore{}, devices, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleHealthz_NoChecker(t *testing.T) {
	srv := NewServer(&fakeJobStore{}, &fakeDeviceRegistry{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestHandleReadyz(t *testing.T) {
	srv := NewServer(&fakeJobStore{}, &fakeDeviceRegistry{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMetrics_DisabledByDefault(t *testing.T) {
	srv := NewServer(&fakeJobStore{}, &fakeDeviceRegistry{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when metrics disabled", rec.Code)
	}
}

func TestMetrics_EnabledServesPrometheusFormat(t *testing.T) {
	srv := NewServer(&fakeJobStore{}, &fakeDeviceRegistry{}, nil)
	srv.EnableMetrics()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
