package domain

import (
	"fmt"
	"time"
)

// Device is a registered telemetry source (river gauge, drain sensor).
// Immutable after registration; readings and incidents reference it by ID.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

// Reading is one water-level measurement, annotated with its final risk
// classification (after rapid-rise escalation, not the raw threshold result).
// Created exactly once per ingestion and never updated.
type Reading struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	WaterLevel float64   `json:"water_level"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Timestamp  time.Time `json:"timestamp"`
}

// Incident tracks a period during which a device sits at a given risk level.
// The only mutation allowed after creation is setting ResolvedAt, exactly once.
type Incident struct {
	ID          int64      `json:"id"`
	DeviceID    string     `json:"device_id"`
	RiskLevel   RiskLevel  `json:"risk_level"`
	TriggeredAt time.Time  `json:"triggered_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Open reports whether the incident has not yet been resolved.
func (i Incident) Open() bool {
	return i.ResolvedAt == nil
}

// IncidentFilter narrows an incident listing. A zero Limit falls back to the
// store's default.
type IncidentFilter struct {
	DeviceID string
	OpenOnly bool
	Limit    int
}

// IncidentMessage builds the fixed message template for a newly opened
// incident, tagged when the opening reading carried a rapid rise.
func IncidentMessage(risk RiskLevel, rapidRise bool) string {
	msg := fmt.Sprintf("Water level crossed %s threshold", risk)
	if rapidRise {
		msg += " (RAPID RISE detected)"
	}
	return msg
}
