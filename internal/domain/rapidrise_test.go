package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func reading(deviceID string, level float64, ts time.Time) Reading {
	return Reading{DeviceID: deviceID, WaterLevel: level, Timestamp: ts}
}

func TestDetectRapidRise(t *testing.T) {
	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		window  []Reading
		current float64
		want    bool
	}{
		{
			name:    "empty window never triggers",
			window:  nil,
			current: 120,
			want:    false,
		},
		{
			name: "delta above threshold triggers",
			window: []Reading{
				reading("river_001", 40, now.Add(-9*time.Minute)),
			},
			current: 56, // +16
			want:    true,
		},
		{
			name: "delta exactly at threshold does not trigger",
			window: []Reading{
				reading("river_001", 40, now.Add(-9*time.Minute)),
			},
			current: 55, // +15 exactly
			want:    false,
		},
		{
			name: "baseline is oldest reading in window",
			window: []Reading{
				reading("river_001", 30, now.Add(-9*time.Minute)),
				reading("river_001", 44, now.Add(-4*time.Minute)),
			},
			current: 46, // +16 from oldest, +2 from newest
			want:    true,
		},
		{
			name: "unsorted window still picks oldest",
			window: []Reading{
				reading("river_001", 44, now.Add(-4*time.Minute)),
				reading("river_001", 30, now.Add(-9*time.Minute)),
			},
			current: 46,
			want:    true,
		},
		{
			name: "falling level never triggers",
			window: []Reading{
				reading("river_001", 80, now.Add(-8*time.Minute)),
			},
			current: 50,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectRapidRise(tt.window, tt.current))
		})
	}
}
