package aidefense

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

// rescoreLookback is how many recent requests accompany a detection to the
// intent classifier.
const rescoreLookback = 10

// DetectionEngine analyzes one source's request stream. It owns the request
// window and the three detectors; callers must serialize Analyze calls for a
// given engine.
type DetectionEngine struct {
	cfg      Config
	window   *RequestWindow
	speed    *SpeedDetector
	enum     *EnumerationDetector
	anomaly  *AnomalyDetector
	rescorer *Rescorer
	metrics  MetricsCollector
	logger   *log.Logger
}

// EngineOption customizes a DetectionEngine at construction.
type EngineOption func(*DetectionEngine)

// WithRescorer attaches an AI rescoring layer, applied to every detection
// whose threat level is not NORMAL.
func WithRescorer(r *Rescorer) EngineOption {
	return func(e *DetectionEngine) { e.rescorer = r }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m MetricsCollector) EngineOption {
	return func(e *DetectionEngine) { e.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *DetectionEngine) { e.logger = l }
}

// NewDetectionEngine validates cfg and builds an engine from it.
func NewDetectionEngine(cfg Config, opts ...EngineOption) (*DetectionEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newDetectionEngine(cfg, opts...), nil
}

// newDetectionEngine assumes cfg has already been validated.
func newDetectionEngine(cfg Config, opts ...EngineOption) *DetectionEngine {
	e := &DetectionEngine{
		cfg:     cfg,
		window:  NewRequestWindow(cfg.MaxHistorySize),
		speed:   NewSpeedDetector(cfg.SpeedThreshold, time.Duration(cfg.SpeedWindowSeconds)*time.Second),
		enum:    NewEnumerationDetector(cfg.SequenceLength, cfg.SequenceTolerance),
		anomaly: NewAnomalyDetector(cfg.ZScoreThreshold, cfg.FeatureSampleSize),
		logger:  &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze folds one request into the engine's history and returns the fused
// detection. Every call produces a Detection, including NORMAL ones.
func (e *DetectionEngine) Analyze(req Request) Detection {
	var prev *Request
	if e.window.Len() > 0 {
		last := e.window.Last()
		prev = &last
	}
	e.window.Append(req)

	speedRes := e.speed.Evaluate(e.window)
	enumRes := e.enum.Evaluate(e.window)
	anomRes := e.anomaly.Evaluate(req, prev)

	score := fuseScore(speedRes, enumRes, anomRes)
	pattern := classifyPattern(speedRes, enumRes, anomRes)

	det := Detection{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		Request:     req,
		ThreatScore: score,
		ThreatLevel: ThreatLevelFromScore(score),
		PatternType: pattern,
		Details: DetectionDetails{
			Speed:       speedRes,
			Enumeration: enumRes,
			Anomaly:     anomRes,
		},
	}

	if e.rescorer != nil && det.ThreatLevel != ThreatNormal {
		det = e.rescorer.Rescore(det, e.window.Recent(rescoreLookback))
	}

	if e.metrics != nil {
		e.metrics.IncrementCounter("detections_total", map[string]string{
			"pattern": string(det.PatternType),
			"level":   string(det.ThreatLevel),
		})
		e.metrics.ObserveHistogram("threat_score", float64(det.ThreatScore), nil)
	}

	if det.ThreatLevel != ThreatNormal {
		e.logger.Warn().
			Str("detection_id", det.ID).
			Str("source_ip", req.SourceIP).
			Str("endpoint", req.Endpoint).
			Str("pattern", string(det.PatternType)).
			Str("level", string(det.ThreatLevel)).
			Int("score", det.ThreatScore).
			Msg("threat detected")
	}
	return det
}

// Reset clears the request history and every detector's accumulated state.
func (e *DetectionEngine) Reset() {
	e.window.Reset()
	e.anomaly.Reset()
}

// fuseScore sums the detectors' capped contributions and clamps to 0..100.
// Caps: speed 40, enumeration 35, anomaly 25.
func fuseScore(s SpeedResult, en EnumerationResult, a AnomalyResult) int {
	score := 0.0
	if s.Detected {
		score += math.Min(40, s.RequestsPerSecond/s.Threshold*30)
	}
	if en.Detected {
		score += math.Min(35, float64(en.SequenceLength)*5)
	}
	if a.Detected {
		score += math.Min(25, a.ZScore/a.Threshold*20)
	}
	n := int(score)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// classifyPattern picks the dominant pattern with a fixed priority: speed
// beats enumeration beats anomaly.
func classifyPattern(s SpeedResult, en EnumerationResult, a AnomalyResult) PatternType {
	switch {
	case s.Detected:
		return PatternSuperhumanSpeed
	case en.Detected:
		return PatternSystematicEnumeration
	case a.Detected:
		return PatternBehavioralAnomaly
	default:
		return PatternNormal
	}
}

// ShardedAnalyzer multiplexes requests from many sources onto per-source
// engines. It is safe for concurrent use.
type ShardedAnalyzer struct {
	mu     sync.Mutex
	cfg    Config
	opts   []EngineOption
	shards map[string]*DetectionEngine
}

// NewShardedAnalyzer validates cfg and builds an empty analyzer. Engines are
// created lazily per source IP with the given options.
func NewShardedAnalyzer(cfg Config, opts ...EngineOption) (*ShardedAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ShardedAnalyzer{
		cfg:    cfg,
		opts:   opts,
		shards: make(map[string]*DetectionEngine),
	}, nil
}

// Analyze routes the request to its source's engine, creating one on first
// contact.
func (a *ShardedAnalyzer) Analyze(req Request) Detection {
	a.mu.Lock()
	defer a.mu.Unlock()
	engine, ok := a.shards[req.SourceIP]
	if !ok {
		engine = newDetectionEngine(a.cfg, a.opts...)
		a.shards[req.SourceIP] = engine
	}
	return engine.Analyze(req)
}

// Reset drops every per-source engine and its accumulated history.
func (a *ShardedAnalyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shards = make(map[string]*DetectionEngine)
}

// Reconfigure swaps the configuration and rebuilds all shards from scratch.
// In-flight history is discarded; new engines pick up the new thresholds.
func (a *ShardedAnalyzer) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.shards = make(map[string]*DetectionEngine)
	return nil
}

// Sources returns the number of distinct source IPs currently tracked.
func (a *ShardedAnalyzer) Sources() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.shards)
}
