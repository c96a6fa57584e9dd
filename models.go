package aidefense

import (
	"time"
)

// ThreatLevel classifies the severity of a detection. It is always a pure
// function of the fused threat score, see ThreatLevelFromScore.
type ThreatLevel string

const (
	ThreatNormal     ThreatLevel = "normal"
	ThreatSuspicious ThreatLevel = "suspicious"
	ThreatMalicious  ThreatLevel = "malicious"
)

// PatternType names the dominant attack pattern behind a detection.
type PatternType string

const (
	PatternSuperhumanSpeed       PatternType = "superhuman_speed"
	PatternSystematicEnumeration PatternType = "systematic_enumeration"
	PatternBehavioralAnomaly     PatternType = "behavioral_anomaly"
	PatternNormal                PatternType = "normal"
)

// Request is a single observed HTTP request. Producers create it and the
// engine never mutates it.
type Request struct {
	Timestamp  time.Time         `json:"timestamp"`
	SourceIP   string            `json:"source_ip"`
	Endpoint   string            `json:"endpoint"`
	Method     string            `json:"method"`
	UserAgent  string            `json:"user_agent"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// SpeedResult is the speed detector's contribution to a detection.
type SpeedResult struct {
	Detected          bool    `json:"detected"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Threshold         float64 `json:"threshold,omitempty"`
}

// EnumerationResult is the enumeration detector's contribution.
type EnumerationResult struct {
	Detected       bool   `json:"detected"`
	Pattern        string `json:"pattern,omitempty"`
	SequenceLength int    `json:"sequence_length"`
}

// AnomalyFeatures holds the per-feature z-scores behind an anomaly result.
type AnomalyFeatures struct {
	EndpointDepthZ  float64 `json:"endpoint_depth_z"`
	ParameterCountZ float64 `json:"parameter_count_z"`
	IntervalZ       float64 `json:"interval_z"`
}

// AnomalyResult is the behavioral anomaly detector's contribution.
type AnomalyResult struct {
	Detected  bool            `json:"detected"`
	ZScore    float64         `json:"z_score"`
	Threshold float64         `json:"threshold,omitempty"`
	Features  AnomalyFeatures `json:"features"`
}

// DetectionDetails carries the structured sub-results of every detector that
// evaluated the request, detected or not.
type DetectionDetails struct {
	Speed       SpeedResult       `json:"speed_detection"`
	Enumeration EnumerationResult `json:"enumeration_detection"`
	Anomaly     AnomalyResult     `json:"anomaly_detection"`
}

// Detection is the engine's verdict for one analyzed request.
type Detection struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Request     Request          `json:"request"`
	ThreatScore int              `json:"threat_score"`
	ThreatLevel ThreatLevel      `json:"threat_level"`
	PatternType PatternType      `json:"pattern_type"`
	Details     DetectionDetails `json:"details"`
}

// ThreatLevelFromScore maps a fused score onto the fixed level boundaries:
// below 30 normal, below 70 suspicious, 70 and above malicious.
func ThreatLevelFromScore(score int) ThreatLevel {
	switch {
	case score < 30:
		return ThreatNormal
	case score < 70:
		return ThreatSuspicious
	default:
		return ThreatMalicious
	}
}
