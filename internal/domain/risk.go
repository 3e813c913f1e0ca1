package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RiskLevel classifies a water-level measurement, ordered by severity.
// The ordering is load-bearing: escalation compares levels numerically.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskWarning
	RiskHighRisk
	RiskCritical
)

// Classification thresholds in centimetres. Intervals are half-open with an
// inclusive lower bound: a level of exactly 30 is WARNING, not SAFE.
const (
	WarningThreshold  = 30.0
	HighRiskThreshold = 60.0
	CriticalThreshold = 90.0
)

// Classify maps a raw water-level measurement to a risk level. Total and
// deterministic; degenerate sensor values (negative levels) classify as SAFE.
func Classify(waterLevel float64) RiskLevel {
	switch {
	case waterLevel < WarningThreshold:
		return RiskSafe
	case waterLevel < HighRiskThreshold:
		return RiskWarning
	case waterLevel < CriticalThreshold:
		return RiskHighRisk
	default:
		return RiskCritical
	}
}

// Escalate applies the rapid-rise escalation rule: a WARNING classification
// with a detected rapid rise is raised one step to HIGH_RISK. Rapid rise never
// escalates SAFE and never cascades past one step.
func Escalate(risk RiskLevel, rapidRise bool) RiskLevel {
	if rapidRise && risk == RiskWarning {
		return RiskHighRisk
	}
	return risk
}

// String returns the wire/DB representation used by the rest of the system.
func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskWarning:
		return "warning"
	case RiskHighRisk:
		return "high_risk"
	case RiskCritical:
		return "critical"
	default:
		return fmt.Sprintf("risk(%d)", int(r))
	}
}

// Label returns the human-facing form, e.g. "HIGH RISK".
func (r RiskLevel) Label() string {
	return strings.ToUpper(strings.ReplaceAll(r.String(), "_", " "))
}

// ParseRiskLevel converts the string form back to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch s {
	case "safe":
		return RiskSafe, nil
	case "warning":
		return RiskWarning, nil
	case "high_risk":
		return RiskHighRisk, nil
	case "critical":
		return RiskCritical, nil
	default:
		return RiskSafe, fmt.Errorf("unknown risk level %q", s)
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
