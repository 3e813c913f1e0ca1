package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// DeviceRepo persists registered devices.
type DeviceRepo struct {
	q querier
}

// Get fetches a device by ID, returning domain.ErrDeviceNotFound when absent.
func (r *DeviceRepo) Get(ctx context.Context, deviceID string) (domain.Device, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, name, location, created_at FROM devices WHERE id = $1`,
		deviceID,
	)

	var d domain.Device
	if err := row.Scan(&d.ID, &d.Name, &d.Location, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Device{}, domain.ErrDeviceNotFound
		}
		return domain.Device{}, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	return d, nil
}

// List returns all registered devices ordered by ID.
func (r *DeviceRepo) List(ctx context.Context) ([]domain.Device, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, name, location, created_at FROM devices ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		var d domain.Device
		if err := rows.Scan(&d.ID, &d.Name, &d.Location, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Create registers a new device, returning domain.ErrDeviceExists on a
// duplicate ID.
func (r *DeviceRepo) Create(ctx context.Context, d domain.Device) (domain.Device, error) {
	row := r.q.QueryRowContext(ctx,
		`INSERT INTO devices (id, name, location) VALUES ($1, $2, $3) RETURNING created_at`,
		d.ID, d.Name, d.Location,
	)
	if err := row.Scan(&d.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return domain.Device{}, domain.ErrDeviceExists
		}
		return domain.Device{}, fmt.Errorf("create device %s: %w", d.ID, err)
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
