// Package alert decouples notification delivery from the ingestion path.
// Notifications are queued and dispatched by background workers; a slow or
// failing sink can never block or fail a telemetry submission.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
)

// Notification carries everything the sink needs to render a human alert.
type Notification struct {
	DeviceID   string
	DeviceName string
	Location   string
	WaterLevel float64
	RiskLevel  domain.RiskLevel
	RapidRise  bool

	// Sustained marks a reminder for an incident that has stayed open past
	// its escalation window, as opposed to a fresh alert.
	Sustained bool
}

// Sink delivers a single notification. Best effort: errors are logged and
// counted by the dispatcher, never propagated.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Config tunes the dispatcher queue and workers.
type Config struct {
	QueueSize int
	Workers   int
	// Timeout bounds each delivery attempt. There are no retries.
	Timeout time.Duration
}

// Dispatcher fans notifications out to the sink from a bounded queue.
type Dispatcher struct {
	sink    Sink
	queue   chan Notification
	timeout time.Duration
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewDispatcher creates a stopped dispatcher; call Start to launch workers.
// A nil sink produces a dispatcher that silently discards everything, which
// is the unconfigured-sink mode.
func NewDispatcher(sink Sink, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Notification, cfg.QueueSize),
		timeout: cfg.Timeout,
		workers: cfg.Workers,
		logger:  logger.With("component", "alert_dispatcher"),
		metrics: metrics,
	}
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Dispatch enqueues a notification without blocking. When the queue is full
// the notification is dropped with a warning; telemetry ingestion takes
// priority over alert delivery.
func (d *Dispatcher) Dispatch(n Notification) {
	if d.sink == nil {
		d.logger.Debug("alert sink not configured, skipping alert",
			"device_id", n.DeviceID, "risk_level", n.RiskLevel.String())
		return
	}
	select {
	case d.queue <- n:
		d.metrics.AlertQueueDepth.Set(float64(len(d.queue)))
	default:
		d.metrics.AlertsDropped.Inc()
		d.logger.Warn("alert queue full, dropping notification",
			"device_id", n.DeviceID, "risk_level", n.RiskLevel.String())
	}
}

// Close stops accepting notifications and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
		d.metrics.AlertQueueDepth.Set(float64(len(d.queue)))
	}
}

// deliver makes exactly one attempt with a bounded timeout. Failures are
// recorded and discarded; a downstream notification problem must stay
// invisible to submitters.
func (d *Dispatcher) deliver(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Notify(ctx, n); err != nil {
		d.metrics.AlertFailures.Inc()
		d.logger.Error("alert delivery failed",
			"error", err,
			"device_id", n.DeviceID,
			"risk_level", n.RiskLevel.String(),
			"rapid_rise", n.RapidRise,
		)
		return
	}
	d.metrics.AlertsDispatched.Inc()
	d.logger.Info("alert delivered",
		"device_id", n.DeviceID,
		"risk_level", n.RiskLevel.String(),
		"rapid_rise", n.RapidRise,
		"sustained", n.Sustained,
	)
}
