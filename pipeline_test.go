package aidefense

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type failingStore struct {
	saves int
}

func (f *failingStore) Save(det Detection) error { f.saves++; return errors.New("disk full") }
func (f *failingStore) Get(id string) (Detection, error) {
	return Detection{}, ErrDetectionNotFound
}
func (f *failingStore) Recent(limit int, window time.Duration) ([]Detection, error) {
	return nil, nil
}
func (f *failingStore) ByThreatLevel(level ThreatLevel, limit int) ([]Detection, error) {
	return nil, nil
}
func (f *failingStore) Statistics(window time.Duration) (StoreStatistics, error) {
	return StoreStatistics{}, nil
}
func (f *failingStore) PatternDistribution(window time.Duration) (map[PatternType]int, error) {
	return nil, nil
}
func (f *failingStore) PurgeOlderThan(age time.Duration) (int64, error) { return 0, nil }
func (f *failingStore) HealthCheck(ctx context.Context) error           { return nil }
func (f *failingStore) Close() error                                    { return nil }

type recordingPublisher struct {
	published []Detection
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, det Detection) error {
	p.published = append(p.published, det)
	return p.err
}
func (p *recordingPublisher) Close() error { return nil }

func enumerationRun(p *Pipeline, count int) Detection {
	var det Detection
	now := time.Now()
	for i := 1; i <= count; i++ {
		det = p.Process(Request{
			Timestamp: now.Add(time.Duration(i-count) * time.Second),
			SourceIP:  "198.51.100.42",
			Endpoint:  fmt.Sprintf("/api/user/%d", i),
			Method:    "GET",
		})
	}
	return det
}

func TestPipelineSurvivesStoreFailure(t *testing.T) {
	analyzer, err := NewShardedAnalyzer(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store := &failingStore{}
	p := NewPipeline(analyzer, store, nil, nil, nil)

	det := p.Process(Request{Timestamp: time.Now(), SourceIP: "10.0.0.1", Endpoint: "/api/home"})
	if det.ID == "" {
		t.Fatalf("detection must be produced despite store failure")
	}
	if store.saves != 1 {
		t.Fatalf("expected save to be attempted, got %d", store.saves)
	}
}

func TestPipelinePublishesOnlyMalicious(t *testing.T) {
	analyzer, err := NewShardedAnalyzer(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	publisher := &recordingPublisher{}
	ledger := NewThreatLedger(time.Minute)
	p := NewPipeline(analyzer, nil, ledger, publisher, nil)

	p.Process(Request{Timestamp: time.Now(), SourceIP: "10.0.0.1", Endpoint: "/api/home"})
	if len(publisher.published) != 0 {
		t.Fatalf("normal traffic must not be published")
	}

	// A paced walk stays suspicious: logged and ledgered but below the alert
	// bar.
	det := enumerationRun(p, 20)
	if det.ThreatLevel != ThreatSuspicious {
		t.Fatalf("expected a suspicious walk, got %+v", det)
	}
	if len(publisher.published) != 0 {
		t.Fatalf("suspicious detections must not be published")
	}
	if len(ledger.Snapshot()) != 1 {
		t.Fatalf("expected the walker in the ledger")
	}

	// The same walk in a tight burst trips the speed detector too and crosses
	// into malicious, which must be published.
	now := time.Now()
	for i := 1; i <= 20; i++ {
		det = p.Process(Request{
			Timestamp: now,
			SourceIP:  "203.0.113.9",
			Endpoint:  fmt.Sprintf("/api/user/%d", i),
			Method:    "GET",
		})
	}
	if det.ThreatLevel != ThreatMalicious {
		t.Fatalf("expected the burst to be malicious, got %+v", det)
	}
	if len(publisher.published) == 0 {
		t.Fatalf("malicious detections must be published")
	}
	for _, pub := range publisher.published {
		if pub.ThreatLevel != ThreatMalicious {
			t.Fatalf("published a %s detection", pub.ThreatLevel)
		}
	}
}

func TestPipelineSurvivesPublisherFailure(t *testing.T) {
	analyzer, err := NewShardedAnalyzer(testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	publisher := &recordingPublisher{err: errors.New("broker down")}
	p := NewPipeline(analyzer, nil, nil, publisher, nil)

	var det Detection
	now := time.Now()
	for i := 1; i <= 20; i++ {
		det = p.Process(Request{
			Timestamp: now,
			SourceIP:  "198.51.100.42",
			Endpoint:  fmt.Sprintf("/api/user/%d", i),
			Method:    "GET",
		})
	}
	if det.ID == "" || det.ThreatLevel != ThreatMalicious {
		t.Fatalf("detection must be produced despite publish failure, got %+v", det)
	}
	if len(publisher.published) == 0 {
		t.Fatalf("expected publish attempts")
	}
}
