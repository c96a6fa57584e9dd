package aidefense

import (
	"context"
	"time"

	"github.com/oarkflow/log"
)

// publishTimeout bounds the alert publish call so a slow broker cannot stall
// the request path.
const publishTimeout = 2 * time.Second

// Pipeline fans a request out through analysis, persistence, the live ledger
// and alerting. Only analysis is on the critical path; collaborator failures
// are logged and swallowed so detection keeps working when storage or the
// broker is down.
type Pipeline struct {
	Analyzer *ShardedAnalyzer
	Store    DetectionStore
	Ledger   *ThreatLedger
	Alerts   AlertPublisher
	Logger   *log.Logger
}

// NewPipeline wires the collaborators together. Store, Ledger and Alerts may
// each be nil to disable that stage.
func NewPipeline(analyzer *ShardedAnalyzer, store DetectionStore, ledger *ThreatLedger, alerts AlertPublisher, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Pipeline{
		Analyzer: analyzer,
		Store:    store,
		Ledger:   ledger,
		Alerts:   alerts,
		Logger:   logger,
	}
}

// Process analyzes one request and distributes the resulting detection.
func (p *Pipeline) Process(req Request) Detection {
	det := p.Analyzer.Analyze(req)

	if p.Store != nil {
		if err := p.Store.Save(det); err != nil {
			p.Logger.Error().Err(err).Str("detection_id", det.ID).Msg("detection persist failed")
		}
	}

	if p.Ledger != nil {
		p.Ledger.Record(det)
	}

	if p.Alerts != nil && det.ThreatLevel == ThreatMalicious {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Alerts.Publish(ctx, det); err != nil {
			p.Logger.Error().Err(err).Str("detection_id", det.ID).Msg("alert publish failed")
		}
		cancel()
	}

	return det
}
