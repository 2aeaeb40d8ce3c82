// Package registry wraps the SQLite device store, assigning device IDs and
// registration and last-seen timestamps so callers never have to invent
// them. Its Service does not satisfy domain.DeviceRegistry: Register
// returns the stored device, and Touch takes no timestamp.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// Store is the subset of sqlite.DB that the registry depends on.
type Store interface {
	Register(ctx context.Context, d domain.Device) error
	Unregister(ctx context.Context, deviceID string) error
	Get(ctx context.Context, deviceID string) (domain.Device, error)
	List(ctx context.Context, filter domain.DeviceFilter) ([]domain.Device, error)
	Touch(ctx context.Context, deviceID string, status domain.DeviceStatus, m domain.Metrics, at time.Time) error
}

// Service wraps a Store, assigning device IDs on first registration.
type Service struct {
	store Store
	clock domain.Clock
}

// New builds a registry Service over store using clock for timestamps.
func New(store Store, clock domain.Clock) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{store: store, clock: clock}
}

// Register assigns a new device ID if d.ID is empty and persists the
// device as online with its registration time stamped now.
func (s *Service) Register(ctx context.Context, d domain.Device) (domain.Device, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := s.clock.Now()
	d.Status = domain.DeviceOnline
	d.RegisteredAt = now
	d.LastSeenAt = now
	if err := s.store.Register(ctx, d); err != nil {
		return domain.Device{}, err
	}
	return d, nil
}

func (s *Service) Unregister(ctx context.Context, deviceID string) error {
	return s.store.Unregister(ctx, deviceID)
}

func (s *Service) Get(ctx context.Context, deviceID string) (domain.Device, error) {
	return s.store.Get(ctx, deviceID)
}

func (s *Service) List(ctx context.Context, filter domain.DeviceFilter) ([]domain.Device, error) {
	return s.store.List(ctx, filter)
}

// Touch records a heartbeat's status/metrics for deviceID.
func (s *Service) Touch(ctx context.Context, deviceID string, status domain.DeviceStatus, m domain.Metrics) error {
	return s.store.Touch(ctx, deviceID, status, m, s.clock.Now())
}
