// Package daemon manages the orchestrator process lifecycle and
// configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all orchestrator configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	RPC       RPCConfig       `toml:"rpc"`
	Round     RoundConfig     `toml:"round"`
	Selection SelectionConfig `toml:"selection"`
	Device    DeviceConfig    `toml:"device"`
	Blob      BlobConfig      `toml:"blob"`
	Logging   LoggingConfig   `toml:"logging"`
	Security  SecurityConfig  `toml:"security"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this orchestrator instance.
type NodeConfig struct {
	ID       string `toml:"id"`
	DataDir  string `toml:"data_dir"`
}

// APIConfig controls the HTTP sidecar (health, metrics, read-only REST).
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// RPCConfig controls the device-facing RPC HTTP server (internal/rpc).
type RPCConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	MaxMessageMB  int    `toml:"max_message_mb"`
}

// RoundConfig controls round timing, per §4.7.
type RoundConfig struct {
	TimeoutSeconds       int `toml:"round_timeout_s"`
	GraceSeconds         int `toml:"round_grace_s"`
	MaxRetries           int `toml:"round_max_retries"`
	QuorumMin            int `toml:"quorum_min"`
}

// SelectionConfig controls the forming-state retry loop.
type SelectionConfig struct {
	BackoffSeconds int `toml:"selection_backoff_s"`
	MaxAttempts    int `toml:"selection_max_attempts"`
	BatteryFloor   float64 `toml:"battery_floor"`
	ThermalCeiling float64 `toml:"thermal_ceiling"`
}

// DeviceConfig controls liveness and the sweeper.
type DeviceConfig struct {
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_s"`
	MissThreshold            int `toml:"miss_threshold"`
	SweepIntervalSeconds     int `toml:"sweep_interval_s"`
}

// BlobConfig controls model/delta blob transport and retention.
type BlobConfig struct {
	ChunkSizeBytes   int `toml:"chunk_size_bytes"`
	RetentionSeconds int `toml:"blob_retention_s"`
}

// LoggingConfig holds logging settings. The daemon does not apply them;
// it logs through slog.Default().
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// SecurityConfig holds API-key settings. The daemon does not read them;
// neither HTTP server is wrapped in security.APIKeyAuth.
type SecurityConfig struct {
	RequireAPIKey bool   `toml:"require_api_key"`
	APIKey        string `toml:"api_key"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the defaults documented for every timing knob.
func DefaultConfig() Config {
	homeDir := orchestraHome()
	return Config{
		Node: NodeConfig{
			DataDir: homeDir,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		RPC: RPCConfig{
			Host:         "0.0.0.0",
			Port:         7443,
			MaxMessageMB: 16,
		},
		Round: RoundConfig{
			TimeoutSeconds: 300,
			GraceSeconds:   60,
			MaxRetries:     3,
			QuorumMin:      2,
		},
		Selection: SelectionConfig{
			BackoffSeconds: 15,
			MaxAttempts:    8,
			BatteryFloor:   0.30,
			ThermalCeiling: 0.70,
		},
		Device: DeviceConfig{
			HeartbeatIntervalSeconds: 10,
			MissThreshold:            3,
			SweepIntervalSeconds:     15,
		},
		Blob: BlobConfig{
			ChunkSizeBytes:   1 << 20,
			RetentionSeconds: 7 * 24 * 3600,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "orchestrator.log"),
		},
		Security: SecurityConfig{
			RequireAPIKey: false,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $EDGEORCHESTRA_HOME/config.toml, falling
// back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(orchestraHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $EDGEORCHESTRA_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(orchestraHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// orchestraHome returns the orchestrator's data directory.
func orchestraHome() string {
	if env := os.Getenv("EDGEORCHESTRA_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".edgeorchestra")
}

// OrchestraHome is exported for use by other packages.
func OrchestraHome() string {
	return orchestraHome()
}
