package domain

import "time"

// Rapid-rise detection parameters: a rise of strictly more than 15 cm within
// the trailing 10-minute window flags the reading.
const (
	RapidRiseWindow = 10 * time.Minute
	RapidRiseDelta  = 15.0
)

// DetectRapidRise reports whether currentLevel represents an abnormal
// short-term rise over the supplied window of recent readings. The window is
// expected to contain only readings inside the trailing RapidRiseWindow; the
// baseline is the oldest reading in it. A delta of exactly RapidRiseDelta does
// not trigger, and an empty window never triggers.
func DetectRapidRise(window []Reading, currentLevel float64) bool {
	oldest, ok := oldestReading(window)
	if !ok {
		return false
	}
	return currentLevel-oldest.WaterLevel > RapidRiseDelta
}

// oldestReading returns the reading with the smallest timestamp. Stores return
// windows in ascending order already; scanning keeps the result correct for
// callers that cannot guarantee it.
func oldestReading(window []Reading) (Reading, bool) {
	if len(window) == 0 {
		return Reading{}, false
	}
	oldest := window[0]
	for _, r := range window[1:] {
		if r.Timestamp.Before(oldest.Timestamp) {
			oldest = r
		}
	}
	return oldest, true
}
