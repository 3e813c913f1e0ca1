package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// reconcile drives the per-bucket incident state machine for one classified
// reading. A safe reading resolves every open incident for the device; a
// non-safe reading opens an incident for its (device, risk) bucket unless one
// is already open. Returns the created incident, or nil when nothing opened.
func (e *Engine) reconcile(ctx context.Context, s TxStores, deviceID string, effective domain.RiskLevel, rapidRise bool, now time.Time) (*domain.Incident, error) {
	if effective == domain.RiskSafe {
		return nil, e.resolveAll(ctx, s, deviceID, now)
	}

	existing, err := s.FindOpen(ctx, deviceID, effective)
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}
	if existing != nil {
		// Sustained condition: the open incident suppresses duplicates.
		return nil, nil
	}

	created, err := s.Insert(ctx, domain.Incident{
		DeviceID:    deviceID,
		RiskLevel:   effective,
		TriggeredAt: now,
		Message:     domain.IncidentMessage(effective, rapidRise),
	})
	if err != nil {
		return nil, fmt.Errorf("insert incident: %w", err)
	}

	e.metrics.IncidentsOpened.WithLabelValues(effective.String()).Inc()
	e.logger.Warn("incident opened",
		"device_id", deviceID,
		"incident_id", created.ID,
		"risk_level", effective.String(),
		"rapid_rise", rapidRise,
	)
	return &created, nil
}

// resolveAll closes every open incident for the device. Idempotent: with no
// open incidents it is a no-op.
func (e *Engine) resolveAll(ctx context.Context, s TxStores, deviceID string, now time.Time) error {
	open, err := s.FindAllOpen(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("find open incidents: %w", err)
	}
	for _, inc := range open {
		if err := s.Resolve(ctx, inc.ID, now); err != nil {
			return fmt.Errorf("resolve incident %d: %w", inc.ID, err)
		}
		e.metrics.IncidentsResolved.Inc()
		e.logger.Info("incident resolved",
			"device_id", deviceID,
			"incident_id", inc.ID,
			"risk_level", inc.RiskLevel.String(),
		)
	}
	return nil
}
