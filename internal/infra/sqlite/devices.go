package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// ─── Device Registry ────────────────────────────────────────────────────────
// Implements domain.DeviceRegistry.

func (d *DB) Register(ctx context.Context, dev domain.Device) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO devices (
			device_id, name, device_model, os_version, chip, ram_bytes,
			cpu_cores, gpu_cores, ne_cores, frameworks, status,
			cpu_usage, mem_usage, thermal, battery_level, battery_state, low_power,
			registered_at, last_seen_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
			name=excluded.name, device_model=excluded.device_model, os_version=excluded.os_version,
			chip=excluded.chip, ram_bytes=excluded.ram_bytes, cpu_cores=excluded.cpu_cores,
			gpu_cores=excluded.gpu_cores, ne_cores=excluded.ne_cores, frameworks=excluded.frameworks,
			status=excluded.status, registered_at=excluded.registered_at, last_seen_at=excluded.last_seen_at`,
		dev.ID, dev.Name, dev.Model, dev.OSVersion, dev.Capabilities.Chip, dev.Capabilities.RAMBytes,
		dev.Capabilities.CPUCores, dev.Capabilities.GPUCores, dev.Capabilities.NeuralEngineCores,
		strings.Join(dev.Capabilities.SupportedFrameworks, ","), string(dev.Status),
		dev.LastMetrics.CPUUsage, dev.LastMetrics.MemUsage, dev.LastMetrics.Thermal,
		dev.LastMetrics.BatteryLevel, string(dev.LastMetrics.BatteryState), dev.LastMetrics.LowPower,
		unixPtr(dev.RegisteredAt), unixPtr(dev.LastSeenAt),
	)
	return err
}

func (d *DB) Unregister(ctx context.Context, deviceID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

func (d *DB) Get(ctx context.Context, deviceID string) (domain.Device, error) {
	row := d.db.QueryRowContext(ctx, deviceSelect+` WHERE device_id = ?`, deviceID)
	dev, err := scanDevice(row)
	if err != nil {
		return domain.Device{}, mapErr(err, domain.ErrDeviceNotFound)
	}
	return dev, nil
}

func (d *DB) List(ctx context.Context, filter domain.DeviceFilter) ([]domain.Device, error) {
	query := deviceSelect
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY device_id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

func (d *DB) Touch(ctx context.Context, deviceID string, status domain.DeviceStatus, m domain.Metrics, at time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE devices SET status = ?, cpu_usage = ?, mem_usage = ?, thermal = ?,
		 battery_level = ?, battery_state = ?, low_power = ?, last_seen_at = ?
		 WHERE device_id = ?`,
		string(status), m.CPUUsage, m.MemUsage, m.Thermal, m.BatteryLevel,
		string(m.BatteryState), m.LowPower, unixPtr(at), deviceID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

const deviceSelect = `SELECT device_id, name, device_model, os_version, chip, ram_bytes,
	cpu_cores, gpu_cores, ne_cores, frameworks, status,
	cpu_usage, mem_usage, thermal, battery_level, battery_state, low_power,
	registered_at, last_seen_at FROM devices`

func scanDevice(s scanner) (domain.Device, error) {
	var dev domain.Device
	var frameworks string
	var registeredAt, lastSeenAt int64

	err := s.Scan(
		&dev.ID, &dev.Name, &dev.Model, &dev.OSVersion, &dev.Capabilities.Chip, &dev.Capabilities.RAMBytes,
		&dev.Capabilities.CPUCores, &dev.Capabilities.GPUCores, &dev.Capabilities.NeuralEngineCores,
		&frameworks, &dev.Status,
		&dev.LastMetrics.CPUUsage, &dev.LastMetrics.MemUsage, &dev.LastMetrics.Thermal,
		&dev.LastMetrics.BatteryLevel, &dev.LastMetrics.BatteryState, &dev.LastMetrics.LowPower,
		&registeredAt, &lastSeenAt,
	)
	if err != nil {
		return domain.Device{}, err
	}
	if frameworks != "" {
		dev.Capabilities.SupportedFrameworks = strings.Split(frameworks, ",")
	}
	dev.RegisteredAt = unixToTime(registeredAt)
	dev.LastSeenAt = unixToTime(lastSeenAt)
	return dev, nil
}
