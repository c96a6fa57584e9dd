package aidefense

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// TrafficSimulator generates realistic request streams: human-paced browsing
// mixed with high-speed systematic enumeration runs from a single automated
// source. Used by the load generator and the detector tests.
type TrafficSimulator struct {
	rng *rand.Rand

	normalEndpoints []string
	attackTargets   []string
	ipPool          []string
	userAgents      []string

	attackIP        string
	attackUserAgent string
}

// NewTrafficSimulator creates a simulator seeded from seed. The same seed
// reproduces the same traffic.
func NewTrafficSimulator(seed int64) *TrafficSimulator {
	return &TrafficSimulator{
		rng: rand.New(rand.NewSource(seed)),
		normalEndpoints: []string{
			"/api/home",
			"/api/dashboard",
			"/api/profile",
			"/api/settings",
			"/api/products",
			"/api/search",
			"/api/cart",
			"/api/checkout",
			"/api/about",
			"/api/contact",
		},
		attackTargets: []string{
			"/api/user",
			"/api/admin",
			"/api/data",
			"/api/config",
			"/api/system",
		},
		ipPool: []string{
			"192.168.1.100",
			"192.168.1.101",
			"10.0.0.50",
			"172.16.0.25",
			"203.0.113.10",
		},
		userAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
		},
		attackIP:        "198.51.100.42",
		attackUserAgent: "Autonomous-Agent/1.0",
	}
}

// GenerateNormal produces one human-like request from the benign pool.
func (s *TrafficSimulator) GenerateNormal() Request {
	endpoint := s.normalEndpoints[s.rng.Intn(len(s.normalEndpoints))]
	method := "GET"
	if s.rng.Float64() < 0.5 {
		method = "POST"
	}

	var params map[string]string
	if s.rng.Float64() < 0.3 {
		v := s.rng.Intn(100) + 1
		endpoint = fmt.Sprintf("%s?param=%d", endpoint, v)
		params = map[string]string{"param": strconv.Itoa(v)}
	}

	return Request{
		Timestamp:  time.Now(),
		SourceIP:   s.ipPool[s.rng.Intn(len(s.ipPool))],
		Endpoint:   endpoint,
		Method:     method,
		UserAgent:  s.userAgents[s.rng.Intn(len(s.userAgents))],
		Parameters: params,
	}
}

// GenerateAttack produces one request of a systematic enumeration run at the
// given sequence position. All attack requests come from one source with an
// automation user agent.
func (s *TrafficSimulator) GenerateAttack(sequence int) Request {
	target := s.attackTargets[s.rng.Intn(len(s.attackTargets))]
	endpoint := fmt.Sprintf("%s/%d", target, sequence)

	var params map[string]string
	if s.rng.Float64() < 0.5 {
		endpoint = fmt.Sprintf("%s?id=%d", endpoint, sequence)
		params = map[string]string{"id": strconv.Itoa(sequence)}
	}

	return Request{
		Timestamp:  time.Now(),
		SourceIP:   s.attackIP,
		Endpoint:   endpoint,
		Method:     "GET",
		UserAgent:  s.attackUserAgent,
		Parameters: params,
	}
}

// Batch generates count requests with roughly attackRatio of them belonging
// to a single coherent enumeration run.
func (s *TrafficSimulator) Batch(count int, attackRatio float64) []Request {
	out := make([]Request, 0, count)
	sequence := 1
	for i := 0; i < count; i++ {
		if s.rng.Float64() < attackRatio {
			out = append(out, s.GenerateAttack(sequence))
			sequence++
		} else {
			out = append(out, s.GenerateNormal())
		}
	}
	return out
}

// AttackSource returns the IP the simulated attacker uses.
func (s *TrafficSimulator) AttackSource() string {
	return s.attackIP
}
