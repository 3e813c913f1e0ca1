package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/flood-monitor-service/internal/alert"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
)

// Sustained-risk windows: an incident still open after this long warrants a
// reminder notification.
const (
	SustainedWarningAfter  = 30 * time.Minute
	SustainedHighRiskAfter = 10 * time.Minute
)

// SustainedIncidentFinder lists open incidents of a level triggered at or
// before the cutoff.
type SustainedIncidentFinder interface {
	FindOpenBefore(ctx context.Context, risk domain.RiskLevel, cutoff time.Time) ([]domain.Incident, error)
}

// LatestReader returns a device's most recent reading, or
// domain.ErrNoReadings.
type LatestReader interface {
	Latest(ctx context.Context, deviceID string) (domain.Reading, error)
}

// Sweeper periodically re-notifies the alert sink about incidents that have
// stayed open past their sustained-risk window. It never mutates incident
// state; the ingest path remains the only writer. Disabled by default and
// wired in behind a config flag.
type Sweeper struct {
	incidents SustainedIncidentFinder
	readings  LatestReader
	registry  DeviceRegistry
	alerts    AlertDispatcher
	clock     clockwork.Clock
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewSweeper creates a stopped sweeper; call Start with a cron spec such as
// "@every 1m" to begin sweeping.
func NewSweeper(incidents SustainedIncidentFinder, readings LatestReader, registry DeviceRegistry, alerts AlertDispatcher, clock clockwork.Clock, logger *slog.Logger) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		incidents: incidents,
		readings:  readings,
		registry:  registry,
		alerts:    alerts,
		clock:     clock,
		logger:    logger.With("component", "escalation_sweeper"),
	}
}

// Start schedules the sweep on the given cron spec.
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("escalation sweeper started", "schedule", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one pass over sustained open incidents and dispatches reminder
// notifications. Errors are logged and the pass continues.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now().UTC()
	s.sweepLevel(ctx, domain.RiskWarning, now.Add(-SustainedWarningAfter))
	s.sweepLevel(ctx, domain.RiskHighRisk, now.Add(-SustainedHighRiskAfter))
}

func (s *Sweeper) sweepLevel(ctx context.Context, risk domain.RiskLevel, cutoff time.Time) {
	sustained, err := s.incidents.FindOpenBefore(ctx, risk, cutoff)
	if err != nil {
		s.logger.Error("sustained incident query failed", "error", err, "risk_level", risk.String())
		return
	}

	for _, inc := range sustained {
		device, err := s.registry.Get(ctx, inc.DeviceID)
		if err != nil {
			s.logger.Error("device lookup failed for sustained incident",
				"error", err, "device_id", inc.DeviceID, "incident_id", inc.ID)
			continue
		}

		var level float64
		latest, err := s.readings.Latest(ctx, inc.DeviceID)
		switch {
		case err == nil:
			level = latest.WaterLevel
		case errors.Is(err, domain.ErrNoReadings):
			// Incident without readings should not happen; notify anyway.
		default:
			s.logger.Error("latest reading lookup failed",
				"error", err, "device_id", inc.DeviceID)
			continue
		}

		s.logger.Warn("incident sustained past escalation window",
			"device_id", inc.DeviceID,
			"incident_id", inc.ID,
			"risk_level", risk.String(),
			"open_since", inc.TriggeredAt,
		)
		s.alerts.Dispatch(alert.Notification{
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Location:   device.Location,
			WaterLevel: level,
			RiskLevel:  risk,
			Sustained:  true,
		})
	}
}
