package aidefense

import (
	"math"
	"strings"
)

// minAnomalySamples is the number of accumulated depth samples required
// before the anomaly detector produces a verdict.
const minAnomalySamples = 10

// defaultInterval substitutes for the inter-arrival interval when the window
// holds no predecessor.
const defaultInterval = 1.0

// AnomalyDetector scores each request's deviation from its own rolling
// baseline across three features: endpoint depth, parameter count and
// inter-arrival interval. The rolling series are owned state, updated on
// every call before scoring.
type AnomalyDetector struct {
	threshold float64
	depths    *rollingSeries
	params    *rollingSeries
	intervals *rollingSeries
}

// NewAnomalyDetector creates a detector firing above the given combined
// z-score threshold, keeping at most sampleCap samples per feature.
func NewAnomalyDetector(threshold float64, sampleCap int) *AnomalyDetector {
	return &AnomalyDetector{
		threshold: threshold,
		depths:    newRollingSeries(sampleCap),
		params:    newRollingSeries(sampleCap),
		intervals: newRollingSeries(sampleCap),
	}
}

// Evaluate folds the request's features into the rolling series and scores
// the request against them. prev is the request immediately preceding this
// one in the window, or nil for the first request.
func (d *AnomalyDetector) Evaluate(req Request, prev *Request) AnomalyResult {
	depth := float64(len(strings.Split(req.Endpoint, "/")))
	paramCount := float64(len(req.Parameters))

	interval := defaultInterval
	if prev != nil {
		interval = req.Timestamp.Sub(prev.Timestamp).Seconds()
		d.intervals.Push(interval)
	}
	d.depths.Push(depth)
	d.params.Push(paramCount)

	if d.depths.Len() < minAnomalySamples {
		return AnomalyResult{}
	}

	depthZ := zScore(depth, d.depths)
	paramZ := zScore(paramCount, d.params)
	intervalZ := 0.0
	if d.intervals.Len() > 0 {
		intervalZ = zScore(interval, d.intervals)
	}

	combined := math.Max(depthZ, math.Max(paramZ, intervalZ))
	return AnomalyResult{
		Detected:  combined > d.threshold,
		ZScore:    combined,
		Threshold: d.threshold,
		Features: AnomalyFeatures{
			EndpointDepthZ:  depthZ,
			ParameterCountZ: paramZ,
			IntervalZ:       intervalZ,
		},
	}
}

// Reset drops all accumulated feature statistics.
func (d *AnomalyDetector) Reset() {
	d.depths.Reset()
	d.params.Reset()
	d.intervals.Reset()
}

// zScore computes |v - mean| / stddev with the divisor floored at 1, so
// constant or near-constant series cannot blow the score up.
func zScore(v float64, s *rollingSeries) float64 {
	return math.Abs(v-s.Mean()) / math.Max(s.StdDev(), 1)
}
