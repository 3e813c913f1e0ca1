package domain

import "errors"

var (
	// ErrDeviceNotFound rejects telemetry for an unregistered device.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceExists signals a duplicate device registration.
	ErrDeviceExists = errors.New("device already exists")

	// ErrNoReadings signals that a device has no stored readings yet.
	ErrNoReadings = errors.New("no readings for device")
)
