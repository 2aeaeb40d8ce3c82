package domain

import "time"

// DeviceStatus tracks the lifecycle of a registered device.
// Kept separate from TrainingJob/Round status per Open Question in
// SPEC_FULL.md — the source conflates the two, this does not.
type DeviceStatus string

const (
	DeviceOnline   DeviceStatus = "online"
	DeviceOffline  DeviceStatus = "offline"
	DeviceTraining DeviceStatus = "training"
	DeviceError    DeviceStatus = "error"
)

// BatteryState mirrors the states a mobile OS reports for its battery.
type BatteryState string

const (
	BatteryCharging    BatteryState = "charging"
	BatteryFull        BatteryState = "full"
	BatteryDischarging BatteryState = "discharging"
	BatteryNotCharging BatteryState = "not_charging"
	BatteryUnspecified BatteryState = "unspecified"
)

// Capabilities describes what a device's hardware/software can do.
type Capabilities struct {
	Chip                string   `json:"chip"`
	RAMBytes            uint64   `json:"ram_bytes"`
	CPUCores            int      `json:"cpu_cores"`
	GPUCores            int      `json:"gpu_cores"`
	NeuralEngineCores   int      `json:"ne_cores"`
	SupportedFrameworks []string `json:"supported_frameworks"`
}

// Supports reports whether the capability set contains every framework
// in required (case-sensitive exact match, order-independent).
func (c Capabilities) Supports(required []string) bool {
	have := make(map[string]struct{}, len(c.SupportedFrameworks))
	for _, f := range c.SupportedFrameworks {
		have[f] = struct{}{}
	}
	for _, want := range required {
		if _, ok := have[want]; !ok {
			return false
		}
	}
	return true
}

// Metrics is the telemetry snapshot a device reports on every heartbeat.
type Metrics struct {
	CPUUsage     float64      `json:"cpu_usage"`  // 0..1
	MemUsage     float64      `json:"mem_usage"`  // 0..1
	Thermal      float64      `json:"thermal"`    // 0..1
	BatteryLevel float64      `json:"battery_level"` // 0..1
	BatteryState BatteryState `json:"battery_state"`
	LowPower     bool         `json:"low_power"`
}

// Device is the authoritative record of one known worker.
type Device struct {
	ID           string       `json:"device_id"` // server-assigned, immutable
	Name         string       `json:"name"`
	Model        string       `json:"device_model"`
	OSVersion    string       `json:"os_version"`
	Capabilities Capabilities `json:"capabilities"`
	Status       DeviceStatus `json:"status"`
	LastMetrics  Metrics      `json:"last_metrics"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastSeenAt   time.Time    `json:"last_seen_at"`
}

// IsLive reports whether the device's last heartbeat is recent enough to
// satisfy the status=online invariant for the given heartbeat cadence.
func (d Device) IsLive(now time.Time, heartbeatInterval time.Duration, missCount int) bool {
	if d.Status != DeviceOnline {
		return false
	}
	return now.Sub(d.LastSeenAt) <= time.Duration(missCount)*heartbeatInterval
}

// DeviceFilter narrows a registry List call.
type DeviceFilter struct {
	Status *DeviceStatus
}

// Match reports whether d satisfies the filter.
func (f DeviceFilter) Match(d Device) bool {
	if f.Status != nil && d.Status != *f.Status {
		return false
	}
	return true
}
