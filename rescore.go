package aidefense

import (
	"context"
	"time"

	"github.com/oarkflow/log"
)

// IntentVerdict is an intent classifier's judgement of a detection.
type IntentVerdict struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// OutcomeStatus distinguishes a usable verdict from the two failure shapes
// the rescorer must tolerate.
type OutcomeStatus int

const (
	// OutcomeOK carries a verdict.
	OutcomeOK OutcomeStatus = iota
	// OutcomeUnavailable means the classifier backend is not reachable or
	// disabled. Expected in development, logged quietly.
	OutcomeUnavailable
	// OutcomeError means the classifier ran but failed.
	OutcomeError
)

// IntentOutcome is the result of one classification attempt.
type IntentOutcome struct {
	Status  OutcomeStatus
	Verdict IntentVerdict
	Err     error
}

// IntentOK wraps a verdict in a successful outcome.
func IntentOK(v IntentVerdict) IntentOutcome {
	return IntentOutcome{Status: OutcomeOK, Verdict: v}
}

// IntentUnavailable reports an unreachable or disabled backend.
func IntentUnavailable() IntentOutcome {
	return IntentOutcome{Status: OutcomeUnavailable}
}

// IntentError reports a failed classification attempt.
func IntentError(err error) IntentOutcome {
	return IntentOutcome{Status: OutcomeError, Err: err}
}

// IntentClassifier judges the intent behind a detection given the recent
// requests that led to it.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, det Detection, recent []Request) IntentOutcome
}

// maliciousIntents are the classifier labels that raise a detection's score.
var maliciousIntents = map[string]struct{}{
	"reconnaissance": {},
	"enumeration":    {},
	"exploitation":   {},
}

// Rescorer adjusts rule-based detections with an intent classifier's verdict.
// Any classifier failure leaves the detection exactly as the rules produced
// it; the rescorer never degrades availability of the detection path.
type Rescorer struct {
	classifier IntentClassifier
	timeout    time.Duration
	logger     *log.Logger
}

// NewRescorer builds a rescorer enforcing the given per-call timeout.
func NewRescorer(classifier IntentClassifier, timeout time.Duration, logger *log.Logger) *Rescorer {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Rescorer{classifier: classifier, timeout: timeout, logger: logger}
}

// Rescore applies the classifier to a detection whose threat level is not
// NORMAL and folds a confident verdict into the score. NORMAL-level
// detections pass through untouched.
func (r *Rescorer) Rescore(det Detection, recent []Request) Detection {
	if det.ThreatLevel == ThreatNormal {
		return det
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	out := r.classifier.ClassifyIntent(ctx, det, recent)
	switch out.Status {
	case OutcomeOK:
		return r.applyVerdict(det, out.Verdict)
	case OutcomeUnavailable:
		r.logger.Debug().
			Str("detection_id", det.ID).
			Msg("intent classifier unavailable, keeping rule-based detection")
		return det
	default:
		r.logger.Warn().
			Err(out.Err).
			Str("detection_id", det.ID).
			Msg("intent classification failed, keeping rule-based detection")
		return det
	}
}

// applyVerdict nudges the score only on high-confidence malicious intent or
// low-confidence normal intent. Anything in between changes nothing.
func (r *Rescorer) applyVerdict(det Detection, v IntentVerdict) Detection {
	_, malicious := maliciousIntents[v.Intent]
	switch {
	case v.Confidence > 0.7 && malicious:
		det.ThreatScore += 5
		if det.ThreatScore > 100 {
			det.ThreatScore = 100
		}
		if det.ThreatScore >= 70 {
			det.ThreatLevel = ThreatMalicious
		}
	case v.Confidence < 0.3 && v.Intent == "normal":
		det.ThreatScore -= 10
		if det.ThreatScore < 0 {
			det.ThreatScore = 0
		}
		if det.ThreatScore < 30 {
			det.ThreatLevel = ThreatNormal
		}
	}
	return det
}
