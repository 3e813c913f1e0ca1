package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// ReadingRepo persists water-level readings.
type ReadingRepo struct {
	q querier
}

// Append stores a reading and returns it with its assigned ID.
func (r *ReadingRepo) Append(ctx context.Context, reading domain.Reading) (domain.Reading, error) {
	row := r.q.QueryRowContext(ctx,
		`INSERT INTO readings (device_id, water_level, risk_level, recorded_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		reading.DeviceID, reading.WaterLevel, reading.RiskLevel.String(), reading.Timestamp,
	)
	if err := row.Scan(&reading.ID); err != nil {
		return domain.Reading{}, fmt.Errorf("append reading for %s: %w", reading.DeviceID, err)
	}
	return reading, nil
}

// QueryWindow returns the device's readings recorded at or after since,
// ordered by timestamp ascending.
func (r *ReadingRepo) QueryWindow(ctx context.Context, deviceID string, since time.Time) ([]domain.Reading, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, device_id, water_level, risk_level, recorded_at
		 FROM readings
		 WHERE device_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at ASC`,
		deviceID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query reading window for %s: %w", deviceID, err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// List returns recent readings, newest first, optionally filtered by device.
func (r *ReadingRepo) List(ctx context.Context, deviceID string, limit int) ([]domain.Reading, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if deviceID == "" {
		rows, err = r.q.QueryContext(ctx,
			`SELECT id, device_id, water_level, risk_level, recorded_at
			 FROM readings ORDER BY recorded_at DESC LIMIT $1`,
			limit,
		)
	} else {
		rows, err = r.q.QueryContext(ctx,
			`SELECT id, device_id, water_level, risk_level, recorded_at
			 FROM readings WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
			deviceID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// Latest returns the device's most recent reading, or domain.ErrNoReadings.
func (r *ReadingRepo) Latest(ctx context.Context, deviceID string) (domain.Reading, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, device_id, water_level, risk_level, recorded_at
		 FROM readings WHERE device_id = $1 ORDER BY recorded_at DESC LIMIT 1`,
		deviceID,
	)

	reading, err := scanReadingRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Reading{}, domain.ErrNoReadings
		}
		return domain.Reading{}, fmt.Errorf("latest reading for %s: %w", deviceID, err)
	}
	return reading, nil
}

func scanReadings(rows *sql.Rows) ([]domain.Reading, error) {
	var readings []domain.Reading
	for rows.Next() {
		var (
			reading domain.Reading
			risk    string
		)
		if err := rows.Scan(&reading.ID, &reading.DeviceID, &reading.WaterLevel, &risk, &reading.Timestamp); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		level, err := domain.ParseRiskLevel(risk)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		reading.RiskLevel = level
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func scanReadingRow(row *sql.Row) (domain.Reading, error) {
	var (
		reading domain.Reading
		risk    string
	)
	if err := row.Scan(&reading.ID, &reading.DeviceID, &reading.WaterLevel, &risk, &reading.Timestamp); err != nil {
		return domain.Reading{}, err
	}
	level, err := domain.ParseRiskLevel(risk)
	if err != nil {
		return domain.Reading{}, err
	}
	reading.RiskLevel = level
	return reading, nil
}
