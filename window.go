package aidefense

import "math"

// RequestWindow is a bounded, append-only history of recent requests with
// FIFO eviction once capacity is exceeded. Insertion order is the only
// ordering guarantee; the caller is expected to feed requests in
// non-decreasing timestamp order.
type RequestWindow struct {
	capacity int
	entries  []Request
}

// NewRequestWindow creates a window holding at most capacity requests.
func NewRequestWindow(capacity int) *RequestWindow {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RequestWindow{
		capacity: capacity,
		entries:  make([]Request, 0, capacity),
	}
}

// Append adds a request, evicting the oldest entry when full.
func (w *RequestWindow) Append(r Request) {
	w.entries = append(w.entries, r)
	if len(w.entries) > w.capacity {
		w.entries = w.entries[1:]
	}
}

// Len returns the number of requests currently held.
func (w *RequestWindow) Len() int {
	return len(w.entries)
}

// Last returns the most recently appended request. It must only be called on
// a non-empty window.
func (w *RequestWindow) Last() Request {
	return w.entries[len(w.entries)-1]
}

// Recent returns a snapshot of the last k entries in insertion order. The
// returned slice never aliases the live buffer.
func (w *RequestWindow) Recent(k int) []Request {
	if k <= 0 {
		return nil
	}
	if k > len(w.entries) {
		k = len(w.entries)
	}
	out := make([]Request, k)
	copy(out, w.entries[len(w.entries)-k:])
	return out
}

// Reset drops all history.
func (w *RequestWindow) Reset() {
	w.entries = w.entries[:0]
}

// rollingSeries is a capped FIFO series of float samples with streaming mean
// and population standard deviation, used by the anomaly detector.
type rollingSeries struct {
	cap    int
	values []float64
}

func newRollingSeries(cap int) *rollingSeries {
	if cap <= 0 {
		cap = 100
	}
	return &rollingSeries{cap: cap, values: make([]float64, 0, cap)}
}

func (s *rollingSeries) Push(v float64) {
	s.values = append(s.values, v)
	if len(s.values) > s.cap {
		s.values = s.values[1:]
	}
}

func (s *rollingSeries) Len() int {
	return len(s.values)
}

func (s *rollingSeries) Mean() float64 {
	if len(s.values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s.values {
		sum += v
	}
	return sum / float64(len(s.values))
}

// StdDev returns the population standard deviation of the series.
func (s *rollingSeries) StdDev() float64 {
	n := len(s.values)
	if n == 0 {
		return 0
	}
	mean := s.Mean()
	sum := 0.0
	for _, v := range s.values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func (s *rollingSeries) Reset() {
	s.values = s.values[:0]
}
