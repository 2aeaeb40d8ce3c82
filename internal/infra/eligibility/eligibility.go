// Package eligibility implements the default selection predicate and
// tie-break ordering used to pick participants for a training round.
package eligibility

import (
	"context"
	"sort"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

const (
	minBatteryLevel = 0.30
	maxThermal       = 0.70
)

// LivenessChecker reports whether a device is currently live.
type LivenessChecker interface {
	IsLive(deviceID string, at time.Time) bool
}

// AssignmentTracker reports whether a device is already a participant in
// some other open round, so it can't be double-booked.
type AssignmentTracker interface {
	IsAssigned(deviceID string) bool
}

// QuarantineChecker reports whether a device is currently quarantined.
type QuarantineChecker interface {
	IsQuarantined(deviceID string) bool
}

// Selector implements domain.EligibilitySelector.
type Selector struct {
	registry   Registry
	liveness   LivenessChecker
	assigned   AssignmentTracker
	quarantine QuarantineChecker
	clock      domain.Clock
}

// Registry lists all known devices.
type Registry interface {
	List(ctx context.Context, filter domain.DeviceFilter) ([]domain.Device, error)
}

// New builds a Selector. quarantine may be nil if no quarantine manager
// is wired (straggler quarantine is an optional supplement).
func New(registry Registry, liveness LivenessChecker, assigned AssignmentTracker, quarantine QuarantineChecker, clock domain.Clock) *Selector {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Selector{registry: registry, liveness: liveness, assigned: assigned, quarantine: quarantine, clock: clock}
}

// Select returns up to want eligible devices for spec, ordered by the
// tie-break: higher battery level, then lower thermal, then lower CPU
// usage, then device_id lexical order.
func (s *Selector) Select(ctx context.Context, spec domain.JobSpec, want int) ([]domain.Device, error) {
	status := domain.DeviceOnline
	candidates, err := s.registry.List(ctx, domain.DeviceFilter{Status: &status})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var eligible []domain.Device
	for _, d := range candidates {
		if s.isEligible(d, spec, now) {
			eligible = append(eligible, d)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.LastMetrics.BatteryLevel != b.LastMetrics.BatteryLevel {
			return a.LastMetrics.BatteryLevel > b.LastMetrics.BatteryLevel
		}
		if a.LastMetrics.Thermal != b.LastMetrics.Thermal {
			return a.LastMetrics.Thermal < b.LastMetrics.Thermal
		}
		if a.LastMetrics.CPUUsage != b.LastMetrics.CPUUsage {
			return a.LastMetrics.CPUUsage < b.LastMetrics.CPUUsage
		}
		return a.ID < b.ID
	})

	if len(eligible) > want {
		eligible = eligible[:want]
	}
	return eligible, nil
}

func (s *Selector) isEligible(d domain.Device, spec domain.JobSpec, now time.Time) bool {
	if d.Status != domain.DeviceOnline {
		return false
	}
	if !s.liveness.IsLive(d.ID, now) {
		return false
	}
	m := d.LastMetrics
	if m.BatteryLevel < minBatteryLevel {
		return false
	}
	switch m.BatteryState {
	case domain.BatteryCharging, domain.BatteryFull, domain.BatteryNotCharging:
	default:
		return false
	}
	if m.Thermal > maxThermal {
		return false
	}
	if !d.Capabilities.Supports(spec.RequiredFrameworks) {
		return false
	}
	if s.assigned != nil && s.assigned.IsAssigned(d.ID) {
		return false
	}
	if s.quarantine != nil && s.quarantine.IsQuarantined(d.ID) {
		return false
	}
	return true
}
