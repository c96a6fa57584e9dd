package aidefense

import (
	"math"
	"testing"
	"time"
)

func TestRequestWindowEviction(t *testing.T) {
	w := NewRequestWindow(3)
	for i := 0; i < 5; i++ {
		w.Append(Request{Endpoint: "/api/item", Timestamp: time.Now()})
	}
	if w.Len() != 3 {
		t.Fatalf("expected window capped at 3, got %d", w.Len())
	}
}

func TestRequestWindowRecentIsSnapshot(t *testing.T) {
	w := NewRequestWindow(10)
	w.Append(Request{Endpoint: "/a"})
	w.Append(Request{Endpoint: "/b"})

	recent := w.Recent(2)
	w.Append(Request{Endpoint: "/c"})

	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].Endpoint != "/a" || recent[1].Endpoint != "/b" {
		t.Fatalf("snapshot mutated by later append: %+v", recent)
	}
}

func TestRequestWindowRecentClampsToLen(t *testing.T) {
	w := NewRequestWindow(10)
	w.Append(Request{Endpoint: "/a"})
	if got := len(w.Recent(100)); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}
	if w.Recent(0) != nil {
		t.Fatalf("expected nil for k=0")
	}
}

func TestRollingSeriesStats(t *testing.T) {
	s := newRollingSeries(100)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Push(v)
	}
	if mean := s.Mean(); mean != 5 {
		t.Fatalf("expected mean 5, got %v", mean)
	}
	if std := s.StdDev(); math.Abs(std-2) > 1e-9 {
		t.Fatalf("expected stddev 2, got %v", std)
	}
}

func TestRollingSeriesEviction(t *testing.T) {
	s := newRollingSeries(3)
	for i := 1; i <= 5; i++ {
		s.Push(float64(i))
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", s.Len())
	}
	if mean := s.Mean(); mean != 4 {
		t.Fatalf("expected mean of last three samples 4, got %v", mean)
	}
}
