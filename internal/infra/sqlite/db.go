// Package sqlite provides SQLite-based persistent storage for the
// orchestrator: the device registry, training jobs, rounds, and
// submission records.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/edgeorchestra/orchestrator/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; keep one connection so WAL checkpoints
	// don't race with concurrent busy-timeout retries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id      TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			device_model   TEXT NOT NULL DEFAULT '',
			os_version     TEXT NOT NULL DEFAULT '',
			chip           TEXT NOT NULL DEFAULT '',
			ram_bytes      INTEGER NOT NULL DEFAULT 0,
			cpu_cores      INTEGER NOT NULL DEFAULT 0,
			gpu_cores      INTEGER NOT NULL DEFAULT 0,
			ne_cores       INTEGER NOT NULL DEFAULT 0,
			frameworks     TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			cpu_usage      REAL NOT NULL DEFAULT 0,
			mem_usage      REAL NOT NULL DEFAULT 0,
			thermal        REAL NOT NULL DEFAULT 0,
			battery_level  REAL NOT NULL DEFAULT 0,
			battery_state  TEXT NOT NULL DEFAULT 'unspecified',
			low_power      BOOLEAN NOT NULL DEFAULT 0,
			registered_at  INTEGER NOT NULL,
			last_seen_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			job_id           TEXT PRIMARY KEY,
			architecture     TEXT NOT NULL,
			initial_model_id TEXT NOT NULL,
			status           TEXT NOT NULL,
			current_round    INTEGER NOT NULL DEFAULT 0,
			target_rounds    INTEGER NOT NULL,
			quorum           INTEGER NOT NULL,
			round_deadline_s INTEGER NOT NULL,
			started_at       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			job_id             TEXT NOT NULL,
			round              INTEGER NOT NULL,
			global_model_id    TEXT NOT NULL,
			started_at         INTEGER NOT NULL,
			deadline           INTEGER NOT NULL,
			participants       TEXT NOT NULL DEFAULT '',
			aggregate_model_id TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL,
			attempt            INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (job_id, round)
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			job_id       TEXT NOT NULL,
			round        INTEGER NOT NULL,
			device_id    TEXT NOT NULL,
			blob         BLOB NOT NULL,
			num_samples  INTEGER NOT NULL,
			metrics      TEXT NOT NULL DEFAULT '',
			received_at  INTEGER NOT NULL,
			PRIMARY KEY (job_id, round, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS blobs (
			model_id   TEXT PRIMARY KEY,
			size_bytes INTEGER NOT NULL,
			data       BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func unixPtr(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func mapErr(err error, notFound error) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return err
}
