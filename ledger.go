package aidefense

import (
	"sync"
	"time"
)

// ThreatLedger keeps the most recent non-NORMAL detection per source IP,
// expiring entries after a TTL. It backs the live "active threats" view
// without a round trip to the store.
type ThreatLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*ledgerEntry
}

type ledgerEntry struct {
	detection Detection
	recorded  time.Time
}

// ActiveThreat is one source's current standing in the ledger.
type ActiveThreat struct {
	SourceIP  string    `json:"source_ip"`
	Detection Detection `json:"detection"`
	Recorded  time.Time `json:"recorded"`
}

// ThreatSummary aggregates the ledger's live entries.
type ThreatSummary struct {
	ActivePatterns map[PatternType]int `json:"active_patterns"`
	ActiveSources  int                 `json:"active_sources"`
	LastUpdated    time.Time           `json:"last_updated"`
}

// NewThreatLedger creates a ledger expiring entries after ttl. A
// non-positive ttl defaults to five minutes.
func NewThreatLedger(ttl time.Duration) *ThreatLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ThreatLedger{
		ttl:     ttl,
		entries: make(map[string]*ledgerEntry),
	}
}

// Record stores the detection under its source IP. NORMAL detections and
// detections without a source are ignored.
func (l *ThreatLedger) Record(det Detection) {
	if det.Request.SourceIP == "" || det.PatternType == PatternNormal {
		return
	}
	l.mu.Lock()
	l.entries[det.Request.SourceIP] = &ledgerEntry{detection: det, recorded: time.Now()}
	l.mu.Unlock()
}

// Snapshot returns the live entries, skipping anything past its TTL.
func (l *ThreatLedger) Snapshot() []ActiveThreat {
	now := time.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var threats []ActiveThreat
	for ip, entry := range l.entries {
		if now.Sub(entry.recorded) > l.ttl {
			continue
		}
		threats = append(threats, ActiveThreat{
			SourceIP:  ip,
			Detection: entry.detection,
			Recorded:  entry.recorded,
		})
	}
	return threats
}

// Cleanup removes expired entries. Intended to run periodically.
func (l *ThreatLedger) Cleanup() {
	now := time.Now()
	l.mu.Lock()
	for ip, entry := range l.entries {
		if now.Sub(entry.recorded) > l.ttl {
			delete(l.entries, ip)
		}
	}
	l.mu.Unlock()
}

// Summary tallies the live entries by pattern type.
func (l *ThreatLedger) Summary() ThreatSummary {
	summary := ThreatSummary{
		ActivePatterns: make(map[PatternType]int),
	}
	threats := l.Snapshot()
	summary.ActiveSources = len(threats)
	for _, t := range threats {
		summary.ActivePatterns[t.Detection.PatternType]++
		if t.Recorded.After(summary.LastUpdated) {
			summary.LastUpdated = t.Recorded
		}
	}
	return summary
}
