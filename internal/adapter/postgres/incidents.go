package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// IncidentRepo persists flood incidents.
type IncidentRepo struct {
	q querier
}

const incidentColumns = `id, device_id, risk_level, triggered_at, resolved_at, message`

// FindOpen returns the open incident for the (device, risk level) bucket, or
// nil when the bucket has none.
func (r *IncidentRepo) FindOpen(ctx context.Context, deviceID string, risk domain.RiskLevel) (*domain.Incident, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE device_id = $1 AND risk_level = $2 AND resolved_at IS NULL
		 LIMIT 1`,
		deviceID, risk.String(),
	)

	inc, err := scanIncidentRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open incident for %s/%s: %w", deviceID, risk, err)
	}
	return &inc, nil
}

// FindAllOpen returns every open incident for the device, across risk levels.
func (r *IncidentRepo) FindAllOpen(ctx context.Context, deviceID string) ([]domain.Incident, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE device_id = $1 AND resolved_at IS NULL
		 ORDER BY triggered_at`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("find open incidents for %s: %w", deviceID, err)
	}
	defer rows.Close()

	return scanIncidents(rows)
}

// FindOpenBefore returns open incidents of the given level triggered at or
// before the cutoff, for the sustained-risk sweeper.
func (r *IncidentRepo) FindOpenBefore(ctx context.Context, risk domain.RiskLevel, cutoff time.Time) ([]domain.Incident, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE risk_level = $1 AND resolved_at IS NULL AND triggered_at <= $2
		 ORDER BY triggered_at`,
		risk.String(), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("find sustained %s incidents: %w", risk, err)
	}
	defer rows.Close()

	return scanIncidents(rows)
}

// Insert opens a new incident and returns it with its assigned ID.
func (r *IncidentRepo) Insert(ctx context.Context, inc domain.Incident) (domain.Incident, error) {
	row := r.q.QueryRowContext(ctx,
		`INSERT INTO incidents (device_id, risk_level, triggered_at, message)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		inc.DeviceID, inc.RiskLevel.String(), inc.TriggeredAt, inc.Message,
	)
	if err := row.Scan(&inc.ID); err != nil {
		return domain.Incident{}, fmt.Errorf("insert incident for %s: %w", inc.DeviceID, err)
	}
	return inc, nil
}

// Resolve marks an incident resolved. The resolved_at guard keeps resolution
// a set-exactly-once transition.
func (r *IncidentRepo) Resolve(ctx context.Context, incidentID int64, resolvedAt time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE incidents SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL`,
		incidentID, resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("resolve incident %d: %w", incidentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("resolve incident %d: not found or already resolved", incidentID)
	}
	return nil
}

// List returns incidents newest first, optionally filtered.
func (r *IncidentRepo) List(ctx context.Context, filter domain.IncidentFilter) ([]domain.Incident, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	var (
		clauses []string
		args    []any
	)
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		clauses = append(clauses, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if filter.OpenOnly {
		clauses = append(clauses, "resolved_at IS NULL")
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY triggered_at DESC LIMIT $%d", len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	return scanIncidents(rows)
}

func scanIncidents(rows *sql.Rows) ([]domain.Incident, error) {
	var incidents []domain.Incident
	for rows.Next() {
		var (
			inc        domain.Incident
			risk       string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&inc.ID, &inc.DeviceID, &risk, &inc.TriggeredAt, &resolvedAt, &inc.Message); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		level, err := domain.ParseRiskLevel(risk)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.RiskLevel = level
		if resolvedAt.Valid {
			t := resolvedAt.Time
			inc.ResolvedAt = &t
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func scanIncidentRow(row *sql.Row) (domain.Incident, error) {
	var (
		inc        domain.Incident
		risk       string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&inc.ID, &inc.DeviceID, &risk, &inc.TriggeredAt, &resolvedAt, &inc.Message); err != nil {
		return domain.Incident{}, err
	}
	level, err := domain.ParseRiskLevel(risk)
	if err != nil {
		return domain.Incident{}, err
	}
	inc.RiskLevel = level
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	return inc, nil
}
