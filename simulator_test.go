package aidefense

import (
	"strings"
	"testing"
)

func TestSimulatorSeedReproducibility(t *testing.T) {
	a := NewTrafficSimulator(7).Batch(50, 0.3)
	b := NewTrafficSimulator(7).Batch(50, 0.3)
	if len(a) != len(b) {
		t.Fatalf("batch sizes differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Endpoint != b[i].Endpoint || a[i].SourceIP != b[i].SourceIP {
			t.Fatalf("request %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSimulatorAttackRequestShape(t *testing.T) {
	sim := NewTrafficSimulator(1)
	req := sim.GenerateAttack(17)
	if req.SourceIP != sim.AttackSource() {
		t.Fatalf("attack must come from the attack source, got %s", req.SourceIP)
	}
	if !strings.Contains(req.Endpoint, "/17") {
		t.Fatalf("expected sequence number in endpoint, got %s", req.Endpoint)
	}
	if req.Method != "GET" {
		t.Fatalf("expected GET, got %s", req.Method)
	}
	if req.UserAgent == "" || strings.HasPrefix(req.UserAgent, "Mozilla") {
		t.Fatalf("expected an automation user agent, got %q", req.UserAgent)
	}
}

func TestSimulatorNormalRequestShape(t *testing.T) {
	sim := NewTrafficSimulator(1)
	for i := 0; i < 50; i++ {
		req := sim.GenerateNormal()
		if req.SourceIP == sim.AttackSource() {
			t.Fatalf("normal traffic must not use the attack source")
		}
		if !strings.HasPrefix(req.Endpoint, "/api/") {
			t.Fatalf("unexpected endpoint %s", req.Endpoint)
		}
		if req.Method != "GET" && req.Method != "POST" {
			t.Fatalf("unexpected method %s", req.Method)
		}
	}
}

func TestSimulatorBatchRatioZero(t *testing.T) {
	for _, req := range NewTrafficSimulator(3).Batch(100, 0) {
		if req.SourceIP == "198.51.100.42" {
			t.Fatalf("ratio 0 must produce no attack traffic")
		}
	}
}

func TestSimulatorBatchRatioOne(t *testing.T) {
	batch := NewTrafficSimulator(3).Batch(20, 1)
	for i, req := range batch {
		if req.SourceIP != "198.51.100.42" {
			t.Fatalf("ratio 1 must produce only attack traffic, request %d from %s", i, req.SourceIP)
		}
	}
	// Sequence numbers advance monotonically through the run.
	if !strings.Contains(batch[0].Endpoint, "/1") {
		t.Fatalf("expected sequence to start at 1, got %s", batch[0].Endpoint)
	}
}
