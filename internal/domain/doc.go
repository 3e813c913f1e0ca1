// Package domain holds the pure decision primitives of the flood monitor:
// risk classification, rapid-rise detection, and the entity types shared by
// the ingest engine and its adapters.
//
// # Risk Classification
//
// Water levels (centimetres) map to four risk levels with half-open,
// lower-inclusive thresholds:
//
//	level < 30   → safe
//	30 ≤ l < 60  → warning
//	60 ≤ l < 90  → high_risk
//	level ≥ 90   → critical
//
// Classification is total: negative levels from miscalibrated sensors still
// classify (as safe) rather than erroring.
//
// # Rapid Rise
//
// A reading is flagged as a rapid rise when it exceeds the oldest reading in
// the trailing 10-minute window by strictly more than 15 cm. The window is
// anchored at processing time, not the reading's own timestamp, so backdated
// submissions do not shift it. A rapid rise escalates a warning classification
// one step to high_risk; it never escalates safe and never cascades further.
//
// # Incidents
//
// An incident is opened per (device, risk level) bucket on the first non-safe
// reading without a matching open incident, and every open incident for a
// device is resolved by its first safe reading. Resolution is terminal; a
// bucket reopens as a fresh incident instance. Up to one open incident may
// exist per bucket, so a device can carry open warning and high_risk
// incidents concurrently.
package domain
