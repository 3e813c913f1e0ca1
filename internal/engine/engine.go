// Package engine is the decision core of the flood monitor. Every incoming
// reading runs through one Ingest call: classify, detect rapid rise, persist,
// reconcile incidents, and gate alert dispatch.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-monitor-service/internal/alert"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
)

// DeviceRegistry resolves registered devices. Get returns
// domain.ErrDeviceNotFound for unknown IDs.
type DeviceRegistry interface {
	Get(ctx context.Context, deviceID string) (domain.Device, error)
}

// ReadingStore persists readings and serves the rapid-rise window.
type ReadingStore interface {
	Append(ctx context.Context, r domain.Reading) (domain.Reading, error)
	// QueryWindow returns the device's readings with timestamp >= since,
	// ordered by timestamp ascending.
	QueryWindow(ctx context.Context, deviceID string, since time.Time) ([]domain.Reading, error)
}

// IncidentStore persists incident state per (device, risk level) bucket.
type IncidentStore interface {
	// FindOpen returns the open incident for the exact bucket, or nil.
	FindOpen(ctx context.Context, deviceID string, risk domain.RiskLevel) (*domain.Incident, error)
	FindAllOpen(ctx context.Context, deviceID string) ([]domain.Incident, error)
	Insert(ctx context.Context, inc domain.Incident) (domain.Incident, error)
	Resolve(ctx context.Context, incidentID int64, resolvedAt time.Time) error
}

// TxStores bundles the stores that must share one transaction: the reading
// insert and the incident reconciliation commit or roll back together.
type TxStores interface {
	ReadingStore
	IncidentStore
}

// TxRunner runs fn inside a single transaction against the shared stores.
type TxRunner interface {
	InTx(ctx context.Context, fn func(s TxStores) error) error
}

// AlertDispatcher hands a notification off for asynchronous delivery.
// Implementations must not block.
type AlertDispatcher interface {
	Dispatch(n alert.Notification)
}

// Submission is one incoming telemetry reading. A zero Timestamp means "now".
type Submission struct {
	DeviceID   string    `json:"device_id"`
	WaterLevel float64   `json:"water_level_cm"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// Engine coordinates the decision path for each reading.
type Engine struct {
	registry DeviceRegistry
	tx       TxRunner
	alerts   AlertDispatcher
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	locks    keyedMutex
}

// New creates an Engine. A nil clock defaults to the real clock.
func New(registry DeviceRegistry, tx TxRunner, alerts AlertDispatcher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		registry: registry,
		tx:       tx,
		alerts:   alerts,
		clock:    clock,
		logger:   logger.With("component", "engine"),
		metrics:  metrics,
	}
}

// Ingest processes one reading end to end and returns it as stored, with the
// final risk level after rapid-rise escalation. It fails with
// domain.ErrDeviceNotFound before any decision logic runs, or with a wrapped
// storage error when persistence fails; alert delivery problems are never
// surfaced here.
func (e *Engine) Ingest(ctx context.Context, sub Submission) (domain.Reading, error) {
	device, err := e.registry.Get(ctx, sub.DeviceID)
	if err != nil {
		e.metrics.IngestRejected.WithLabelValues("unknown_device").Inc()
		return domain.Reading{}, err
	}

	// The rapid-rise window is anchored at processing time, not the
	// submitted timestamp. Backdated submissions do not shift it.
	now := e.clock.Now().UTC()
	timestamp := sub.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	start := time.Now()

	// Serialize the whole decision per device. Two concurrent readings for
	// the same device could otherwise both observe "no open incident" and
	// both create one.
	unlock := e.locks.lock(sub.DeviceID)
	defer unlock()

	var (
		stored    domain.Reading
		created   *domain.Incident
		rapidRise bool
		effective domain.RiskLevel
	)

	err = e.tx.InTx(ctx, func(s TxStores) error {
		raw := domain.Classify(sub.WaterLevel)

		window, err := s.QueryWindow(ctx, sub.DeviceID, now.Add(-domain.RapidRiseWindow))
		if err != nil {
			return fmt.Errorf("query rapid-rise window: %w", err)
		}
		rapidRise = domain.DetectRapidRise(window, sub.WaterLevel)
		effective = domain.Escalate(raw, rapidRise)

		stored, err = s.Append(ctx, domain.Reading{
			DeviceID:   sub.DeviceID,
			WaterLevel: sub.WaterLevel,
			RiskLevel:  effective,
			Timestamp:  timestamp,
		})
		if err != nil {
			return fmt.Errorf("append reading: %w", err)
		}

		created, err = e.reconcile(ctx, s, sub.DeviceID, effective, rapidRise, now)
		return err
	})
	if err != nil {
		e.metrics.IngestRejected.WithLabelValues("storage").Inc()
		return domain.Reading{}, fmt.Errorf("ingest reading for %s: %w", sub.DeviceID, err)
	}

	e.metrics.ReadingsIngested.WithLabelValues(effective.String()).Inc()
	e.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if rapidRise {
		e.metrics.RapidRises.Inc()
		e.logger.Warn("rapid rise detected",
			"device_id", sub.DeviceID,
			"water_level", sub.WaterLevel,
			"risk_level", effective.String(),
		)
	}

	if shouldAlert(created, effective) {
		e.alerts.Dispatch(alert.Notification{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Location:   device.Location,
			WaterLevel: sub.WaterLevel,
			RiskLevel:  effective,
			RapidRise:  rapidRise,
		})
	}

	return stored, nil
}

// shouldAlert gates dispatch: fire on every newly created incident, and on
// every critical reading even while a critical incident is already open.
func shouldAlert(created *domain.Incident, effective domain.RiskLevel) bool {
	return created != nil || effective == domain.RiskCritical
}
