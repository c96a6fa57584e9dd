package aidefense

import "time"

// minSpeedHistory is the number of requests the full window must hold before
// the speed detector produces a verdict at all.
const minSpeedHistory = 10

// zeroTimespanFloor substitutes for a zero timespan so bursts of requests
// sharing one timestamp still yield a finite rate.
const zeroTimespanFloor = 0.1

// SpeedDetector flags request velocities no human operator can sustain. It
// computes the rolling rate over the requests that fall inside the configured
// wall-clock window.
type SpeedDetector struct {
	threshold float64
	window    time.Duration
	now       func() time.Time
}

// NewSpeedDetector creates a detector firing above threshold requests per
// second, measured over the trailing window.
func NewSpeedDetector(threshold float64, window time.Duration) *SpeedDetector {
	return &SpeedDetector{
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Evaluate inspects the current window state. Insufficient data is not an
// error: it reports not-detected with a zero rate.
func (d *SpeedDetector) Evaluate(w *RequestWindow) SpeedResult {
	if w.Len() < minSpeedHistory {
		return SpeedResult{}
	}

	cutoff := d.now().Add(-d.window)
	recent := make([]Request, 0, w.Len())
	for _, r := range w.Recent(w.Len()) {
		if !r.Timestamp.Before(cutoff) {
			recent = append(recent, r)
		}
	}
	if len(recent) < 2 {
		return SpeedResult{}
	}

	timespan := recent[len(recent)-1].Timestamp.Sub(recent[0].Timestamp).Seconds()
	if timespan == 0 {
		timespan = zeroTimespanFloor
	}
	rate := float64(len(recent)) / timespan

	return SpeedResult{
		Detected:          rate > d.threshold,
		RequestsPerSecond: rate,
		Threshold:         d.threshold,
	}
}
