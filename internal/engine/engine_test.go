package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-monitor-service/internal/alert"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
	"github.com/couchcryptid/flood-monitor-service/internal/observability"
)

// --- in-memory fakes ---

type memStores struct {
	mu             sync.Mutex
	readings       []domain.Reading
	incidents      []domain.Incident
	nextReadingID  int64
	nextIncidentID int64

	failAppend error
	failInsert error
}

func (m *memStores) InTx(_ context.Context, fn func(engine.TxStores) error) error {
	return fn(m)
}

func (m *memStores) Append(_ context.Context, r domain.Reading) (domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend != nil {
		return domain.Reading{}, m.failAppend
	}
	m.nextReadingID++
	r.ID = m.nextReadingID
	m.readings = append(m.readings, r)
	return r, nil
}

func (m *memStores) QueryWindow(_ context.Context, deviceID string, since time.Time) ([]domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Reading
	for _, r := range m.readings {
		if r.DeviceID == deviceID && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memStores) Latest(_ context.Context, deviceID string) (domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Reading
	for i := range m.readings {
		r := m.readings[i]
		if r.DeviceID != deviceID {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = &r
		}
	}
	if latest == nil {
		return domain.Reading{}, domain.ErrNoReadings
	}
	return *latest, nil
}

func (m *memStores) FindOpen(_ context.Context, deviceID string, risk domain.RiskLevel) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.incidents {
		inc := m.incidents[i]
		if inc.DeviceID == deviceID && inc.RiskLevel == risk && inc.Open() {
			found := inc
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memStores) FindAllOpen(_ context.Context, deviceID string) ([]domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Incident
	for _, inc := range m.incidents {
		if inc.DeviceID == deviceID && inc.Open() {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (m *memStores) FindOpenBefore(_ context.Context, risk domain.RiskLevel, cutoff time.Time) ([]domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Incident
	for _, inc := range m.incidents {
		if inc.RiskLevel == risk && inc.Open() && !inc.TriggeredAt.After(cutoff) {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (m *memStores) Insert(_ context.Context, inc domain.Incident) (domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return domain.Incident{}, m.failInsert
	}
	m.nextIncidentID++
	inc.ID = m.nextIncidentID
	m.incidents = append(m.incidents, inc)
	return inc, nil
}

func (m *memStores) Resolve(_ context.Context, incidentID int64, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.incidents {
		if m.incidents[i].ID == incidentID {
			at := resolvedAt
			m.incidents[i].ResolvedAt = &at
			return nil
		}
	}
	return errors.New("incident not found")
}

func (m *memStores) openIncidents(deviceID string) []domain.Incident {
	out, _ := m.FindAllOpen(context.Background(), deviceID)
	return out
}

type fakeRegistry struct {
	devices map[string]domain.Device
}

func (f *fakeRegistry) Get(_ context.Context, deviceID string) (domain.Device, error) {
	d, ok := f.devices[deviceID]
	if !ok {
		return domain.Device{}, domain.ErrDeviceNotFound
	}
	return d, nil
}

type captureDispatcher struct {
	mu    sync.Mutex
	sent  []alert.Notification
}

func (c *captureDispatcher) Dispatch(n alert.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
}

func (c *captureDispatcher) all() []alert.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]alert.Notification, len(c.sent))
	copy(out, c.sent)
	return out
}

// --- harness ---

type harness struct {
	engine  *engine.Engine
	stores  *memStores
	alerts  *captureDispatcher
	clock   *clockwork.FakeClock
}

func newHarness(t *testing.T, devices ...domain.Device) *harness {
	t.Helper()
	reg := &fakeRegistry{devices: map[string]domain.Device{}}
	for _, d := range devices {
		reg.devices[d.ID] = d
	}
	stores := &memStores{}
	alerts := &captureDispatcher{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &harness{
		engine: engine.New(reg, stores, alerts, clock, logger, observability.NewMetricsForTesting()),
		stores: stores,
		alerts: alerts,
		clock:  clock,
	}
}

func (h *harness) submit(t *testing.T, deviceID string, level float64) domain.Reading {
	t.Helper()
	r, err := h.engine.Ingest(context.Background(), engine.Submission{DeviceID: deviceID, WaterLevel: level})
	require.NoError(t, err)
	return r
}

var riverDevice = domain.Device{ID: "river_001", Name: "Klang River — Ampang", Location: "Ampang, Selangor"}

// --- tests ---

func TestIngest_UnknownDeviceRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Ingest(context.Background(), engine.Submission{DeviceID: "ghost", WaterLevel: 50})
	require.ErrorIs(t, err, domain.ErrDeviceNotFound)

	assert.Empty(t, h.stores.readings, "no reading stored for unknown device")
	assert.Empty(t, h.stores.incidents)
	assert.Empty(t, h.alerts.all())
}

func TestIngest_SafeReadingStoresWithoutIncident(t *testing.T) {
	h := newHarness(t, riverDevice)

	r := h.submit(t, "river_001", 10)

	assert.Equal(t, domain.RiskSafe, r.RiskLevel)
	assert.Empty(t, h.stores.incidents)
	assert.Empty(t, h.alerts.all())
}

func TestIngest_RapidRiseEscalatesWarning(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 29) // baseline, SAFE
	h.clock.Advance(9 * time.Minute)

	// classify(45) = WARNING, delta 16 > 15 → escalated to HIGH_RISK.
	r := h.submit(t, "river_001", 45)
	assert.Equal(t, domain.RiskHighRisk, r.RiskLevel)

	open := h.stores.openIncidents("river_001")
	require.Len(t, open, 1)
	assert.Equal(t, domain.RiskHighRisk, open[0].RiskLevel)
	assert.Equal(t, "Water level crossed high_risk threshold (RAPID RISE detected)", open[0].Message)

	sent := h.alerts.all()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].RapidRise)
}

func TestIngest_RapidRiseDoesNotCascadeBeyondOneStep(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 40)
	h.clock.Advance(5 * time.Minute)

	// classify(65) = HIGH_RISK already; rapid rise must not push to CRITICAL.
	r := h.submit(t, "river_001", 65)
	assert.Equal(t, domain.RiskHighRisk, r.RiskLevel)
}

func TestIngest_ExactDeltaDoesNotEscalate(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 30)
	h.clock.Advance(5 * time.Minute)

	r := h.submit(t, "river_001", 45) // delta exactly 15
	assert.Equal(t, domain.RiskWarning, r.RiskLevel)
}

func TestIngest_ReadingOutsideWindowIgnored(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 20)
	h.clock.Advance(11 * time.Minute)

	// Huge delta but the baseline fell out of the 10-minute window.
	r := h.submit(t, "river_001", 45)
	assert.Equal(t, domain.RiskWarning, r.RiskLevel)
}

func TestIngest_BackdatedTimestampDoesNotShiftWindow(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 29)
	h.clock.Advance(5 * time.Minute)

	// Submitted with an hour-old timestamp; the window is anchored at
	// processing time, so the baseline is still in range and the rise
	// still escalates.
	backdated := h.clock.Now().UTC().Add(-time.Hour)
	r, err := h.engine.Ingest(context.Background(), engine.Submission{
		DeviceID:   "river_001",
		WaterLevel: 45,
		Timestamp:  backdated,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHighRisk, r.RiskLevel)
	assert.True(t, r.Timestamp.Equal(backdated), "submitted timestamp is preserved on the stored reading")
}

func TestIngest_SustainedWarningOpensOneIncident(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 45)
	h.clock.Advance(5 * time.Minute)
	h.submit(t, "river_001", 46)

	open := h.stores.openIncidents("river_001")
	require.Len(t, open, 1, "second warning reading must not open a duplicate incident")
	assert.Len(t, h.alerts.all(), 1, "sustained warning alerts only once")
}

func TestIngest_SafeResolvesAllOpenIncidents(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 45) // WARNING incident
	h.submit(t, "river_001", 75) // HIGH_RISK incident, separate bucket
	require.Len(t, h.stores.openIncidents("river_001"), 2)

	h.clock.Advance(time.Minute)
	h.submit(t, "river_001", 5)

	assert.Empty(t, h.stores.openIncidents("river_001"))
	for _, inc := range h.stores.incidents {
		require.NotNil(t, inc.ResolvedAt)
		assert.True(t, inc.ResolvedAt.Equal(h.clock.Now().UTC()))
	}

	// A later non-safe reading opens a fresh incident instance.
	h.clock.Advance(time.Minute)
	h.submit(t, "river_001", 45)
	open := h.stores.openIncidents("river_001")
	require.Len(t, open, 1)
	assert.Nil(t, open[0].ResolvedAt)
}

func TestIngest_SafeWithNoOpenIncidentsIsIdempotent(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 5)
	h.submit(t, "river_001", 6)

	assert.Empty(t, h.stores.incidents)
	assert.Empty(t, h.alerts.all())
}

func TestIngest_CriticalAlwaysAlerts(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 95)
	h.submit(t, "river_001", 96)
	h.submit(t, "river_001", 97)

	require.Len(t, h.stores.openIncidents("river_001"), 1, "critical incident opened once")
	assert.Len(t, h.alerts.all(), 3, "critical alerts on every ingestion")
}

func TestIngest_StorageFailurePropagates(t *testing.T) {
	h := newHarness(t, riverDevice)
	h.stores.failAppend = errors.New("disk full")

	_, err := h.engine.Ingest(context.Background(), engine.Submission{DeviceID: "river_001", WaterLevel: 45})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDeviceNotFound)
	assert.Empty(t, h.alerts.all(), "no alert on a failed ingestion")
}

func TestIngest_IncidentInsertFailurePropagates(t *testing.T) {
	h := newHarness(t, riverDevice)
	h.stores.failInsert = errors.New("constraint violation")

	_, err := h.engine.Ingest(context.Background(), engine.Submission{DeviceID: "river_001", WaterLevel: 45})
	require.Error(t, err)
	assert.Empty(t, h.alerts.all())
}

func TestIngest_ConcurrentReadingsSameDeviceOpenOneIncident(t *testing.T) {
	h := newHarness(t, riverDevice)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Ingest(context.Background(), engine.Submission{DeviceID: "river_001", WaterLevel: 45})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, h.stores.openIncidents("river_001"), 1)
	assert.Len(t, h.alerts.all(), 1)
}

// TestIngest_FloodScenario walks a device through a full flood cycle:
// calm water, slow rise, escalation, critical peak, and recovery.
func TestIngest_FloodScenario(t *testing.T) {
	h := newHarness(t, riverDevice)
	ctx := context.Background()

	// 1. Calm water: safe, no incident, no alert.
	r := h.submit(t, "river_001", 10)
	assert.Equal(t, domain.RiskSafe, r.RiskLevel)
	assert.Empty(t, h.stores.openIncidents("river_001"))
	assert.Empty(t, h.alerts.all())

	// 2. Rises past the warning threshold: incident + alert. Move the clock
	// first so the baseline ages out of the rapid-rise window and the
	// warning stays unescalated.
	h.clock.Advance(11 * time.Minute)
	r = h.submit(t, "river_001", 45)
	assert.Equal(t, domain.RiskWarning, r.RiskLevel)
	require.Len(t, h.stores.openIncidents("river_001"), 1)
	require.Len(t, h.alerts.all(), 1)
	assert.False(t, h.alerts.all()[0].RapidRise)

	// 3. Holds at warning: suppressed by the open incident.
	h.clock.Advance(5 * time.Minute)
	r = h.submit(t, "river_001", 46)
	assert.Equal(t, domain.RiskWarning, r.RiskLevel)
	assert.Len(t, h.stores.openIncidents("river_001"), 1)
	assert.Len(t, h.alerts.all(), 1)

	// 4. Climbs to high risk: new incident in a different bucket.
	h.clock.Advance(3 * time.Minute)
	r = h.submit(t, "river_001", 65)
	assert.Equal(t, domain.RiskHighRisk, r.RiskLevel)
	require.Len(t, h.stores.openIncidents("river_001"), 2)
	assert.Len(t, h.alerts.all(), 2)

	// 5. Peaks critical.
	h.clock.Advance(2 * time.Minute)
	r = h.submit(t, "river_001", 95)
	assert.Equal(t, domain.RiskCritical, r.RiskLevel)
	require.Len(t, h.stores.openIncidents("river_001"), 3)
	assert.Len(t, h.alerts.all(), 3)

	// 6. Stays critical: no new incident, but critical always alerts.
	h.clock.Advance(time.Minute)
	r = h.submit(t, "river_001", 95)
	assert.Len(t, h.stores.openIncidents("river_001"), 3)
	assert.Len(t, h.alerts.all(), 4)

	// 7. Water recedes: everything resolves, no alert.
	h.clock.Advance(time.Minute)
	r = h.submit(t, "river_001", 5)
	assert.Equal(t, domain.RiskSafe, r.RiskLevel)
	assert.Empty(t, h.stores.openIncidents("river_001"))
	assert.Len(t, h.alerts.all(), 4)

	// All stored readings carry the final classification.
	window, err := h.stores.QueryWindow(ctx, "river_001", time.Time{})
	require.NoError(t, err)
	levels := make([]string, len(window))
	for i, w := range window {
		levels[i] = w.RiskLevel.String()
	}
	want := []string{"safe", "warning", "warning", "high_risk", "critical", "critical", "safe"}
	if diff := cmp.Diff(want, levels); diff != "" {
		t.Errorf("stored risk levels mismatch (-want +got):\n%s", diff)
	}
}

func TestIngest_AlertCarriesDeviceIdentity(t *testing.T) {
	h := newHarness(t, riverDevice)

	h.submit(t, "river_001", 95)

	sent := h.alerts.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "river_001", sent[0].DeviceID)
	assert.Equal(t, "Klang River — Ampang", sent[0].DeviceName)
	assert.Equal(t, "Ampang, Selangor", sent[0].Location)
	assert.Equal(t, 95.0, sent[0].WaterLevel)
	assert.Equal(t, domain.RiskCritical, sent[0].RiskLevel)
}
