// Package postgres persists devices, readings, incidents, and admin users.
// Repositories run against either the pooled *sql.DB or an open transaction,
// so the ingest engine can commit a reading and its incident reconciliation
// atomically.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/couchcryptid/flood-monitor-service/internal/engine"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// The partial unique index on open incidents is a second line of defense
// behind the engine's per-device lock: even racing service instances cannot
// open two incidents in the same (device, risk level) bucket.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		location   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS readings (
		id          BIGSERIAL PRIMARY KEY,
		device_id   TEXT NOT NULL REFERENCES devices(id),
		water_level DOUBLE PRECISION NOT NULL,
		risk_level  TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_device_recorded
		ON readings (device_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id           BIGSERIAL PRIMARY KEY,
		device_id    TEXT NOT NULL REFERENCES devices(id),
		risk_level   TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		resolved_at  TIMESTAMPTZ,
		message      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_open_bucket
		ON incidents (device_id, risk_level) WHERE resolved_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS admin_users (
		id              BIGSERIAL PRIMARY KEY,
		username        TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// DB wraps the connection pool and hands out repositories.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to Postgres, verifies the connection, and applies schema
// migrations.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	return &DB{db: db, logger: logger.With("component", "postgres")}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// CheckReadiness satisfies the HTTP server's readiness probe.
func (d *DB) CheckReadiness(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Devices returns the device repository bound to the pool.
func (d *DB) Devices() *DeviceRepo { return &DeviceRepo{q: d.db} }

// Readings returns the reading repository bound to the pool.
func (d *DB) Readings() *ReadingRepo { return &ReadingRepo{q: d.db} }

// Incidents returns the incident repository bound to the pool.
func (d *DB) Incidents() *IncidentRepo { return &IncidentRepo{q: d.db} }

// Users returns the admin-user repository bound to the pool.
func (d *DB) Users() *UserRepo { return &UserRepo{q: d.db} }

// txStores bundles the transaction-scoped repositories for the engine.
type txStores struct {
	*ReadingRepo
	*IncidentRepo
}

// InTx runs fn against reading and incident repositories bound to a single
// transaction, committing on success and rolling back on error or panic.
func (d *DB) InTx(ctx context.Context, fn func(s engine.TxStores) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck // original panic takes precedence
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.logger.Error("transaction rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(txStores{&ReadingRepo{q: tx}, &IncidentRepo{q: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
