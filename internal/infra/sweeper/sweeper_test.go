package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c fakeClock) Now() time.Time { return c.t }

type fakeLiveness struct {
	stale    []string
	forgot   []string
}

func (f *fakeLiveness) Stale(before time.Time) []string { return f.stale }
func (f *fakeLiveness) Forget(deviceID string)           { f.forgot = append(f.forgot, deviceID) }

type fakeRegistry struct {
	touched []string
	failOn  map[string]bool
}

func (f *fakeRegistry) Touch(_ context.Context, deviceID string, status domain.DeviceStatus, _ domain.Metrics) error {
	if f.failOn[deviceID] {
		return domain.ErrDeviceNotFound
	}
	f.touched = append(f.touched, deviceID)
	return nil
}

func TestSweepOnce_MarksStaleDevicesOffline(t *testing.T) {
	liveness := &fakeLiveness{stale: []string{"dev-1", "dev-2"}}
	registry := &fakeRegistry{failOn: map[string]bool{}}
	s := New(liveness, registry, fakeClock{t: time.Unix(1000, 0)}, time.Second, 30*time.Second, nil)

	s.sweepOnce(context.Background())

	if len(registry.touched) != 2 {
		t.Fatalf("touched %d devices, want 2", len(registry.touched))
	}
	if len(liveness.forgot) != 2 {
		t.Fatalf("forgot %d devices, want 2", len(liveness.forgot))
	}
}

func TestSweepOnce_SkipsForgetOnTouchFailure(t *testing.T) {
	liveness := &fakeLiveness{stale: []string{"dev-1"}}
	registry := &fakeRegistry{failOn: map[string]bool{"dev-1": true}}
	s := New(liveness, registry, fakeClock{t: time.Unix(1000, 0)}, time.Second, 30*time.Second, nil)

	s.sweepOnce(context.Background())

	if len(liveness.forgot) != 0 {
		t.Errorf("forgot = %v, want none when Touch fails", liveness.forgot)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	liveness := &fakeLiveness{}
	registry := &fakeRegistry{failOn: map[string]bool{}}
	s := New(liveness, registry, fakeClock{t: time.Now()}, time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
