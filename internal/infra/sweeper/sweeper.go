// Package sweeper periodically demotes devices whose heartbeats have gone
// quiet from online to offline, so the registry's view of who is
// reachable doesn't depend on a failed device ever calling back in.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// LivenessStore is the subset of domain.LivenessStore the sweeper needs.
type LivenessStore interface {
	Stale(before time.Time) []string
	Forget(deviceID string)
}

// DeviceRegistry is the registry.Service method the sweeper needs (Touch
// stamps the time itself, unlike domain.DeviceRegistry's Touch).
type DeviceRegistry interface {
	Touch(ctx context.Context, deviceID string, status domain.DeviceStatus, m domain.Metrics) error
}

// Sweeper runs on a fixed interval, marking devices offline once their
// last heartbeat is older than missThreshold heartbeat intervals.
type Sweeper struct {
	liveness LivenessStore
	registry DeviceRegistry
	clock    domain.Clock
	interval time.Duration
	maxAge   time.Duration
	log      *slog.Logger
}

// New builds a Sweeper. interval is how often Run wakes up; maxAge is the
// heartbeat age (heartbeat_interval_s * miss_threshold) past which a
// device is considered offline.
func New(liveness LivenessStore, registry DeviceRegistry, clock domain.Clock, interval, maxAge time.Duration, log *slog.Logger) *Sweeper {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{liveness: liveness, registry: registry, clock: clock, interval: interval, maxAge: maxAge, log: log}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := s.clock.Now()
	stale := s.liveness.Stale(now.Add(-s.maxAge))
	for _, deviceID := range stale {
		if err := s.registry.Touch(ctx, deviceID, domain.DeviceOffline, domain.Metrics{}); err != nil {
			s.log.Warn("sweeper: mark offline failed", "device_id", deviceID, "err", err)
			continue
		}
		s.liveness.Forget(deviceID)
		s.log.Info("sweeper: device marked offline", "device_id", deviceID)
	}
}
