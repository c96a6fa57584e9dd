package aidefense

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// embeddingDim is the fixed dimensionality of detection embeddings.
const embeddingDim = 64

// clusterSimilarity is the minimum cosine similarity for two detections to
// land in the same threat cluster.
const clusterSimilarity = 0.7

// SimilarDetection is one similarity search hit.
type SimilarDetection struct {
	ID          string      `json:"id"`
	Similarity  float64     `json:"similarity"`
	PatternType PatternType `json:"pattern_type"`
	ThreatLevel ThreatLevel `json:"threat_level"`
	ThreatScore int         `json:"threat_score"`
	Endpoint    string      `json:"endpoint"`
	SourceIP    string      `json:"source_ip"`
}

// ThreatCluster groups detections whose embeddings sit close together,
// typically repeated runs of the same attack tooling.
type ThreatCluster struct {
	Size           int                `json:"size"`
	Members        []SimilarDetection `json:"members"`
	Representative SimilarDetection   `json:"representative"`
}

// vectorEntry pairs an embedding with the detection fields the search
// results report.
type vectorEntry struct {
	id   string
	vec  []float64
	meta SimilarDetection
}

// VectorIndex is an in-memory embedding index over detections supporting
// cosine similarity search and greedy clustering. Safe for concurrent use.
type VectorIndex struct {
	mu      sync.RWMutex
	entries []vectorEntry
	byID    map[string]int
}

// NewVectorIndex creates an empty index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{byID: make(map[string]int)}
}

// Add embeds the detection and inserts it. Re-adding an existing id replaces
// the stored embedding.
func (x *VectorIndex) Add(det Detection) error {
	if det.ID == "" {
		return fmt.Errorf("vector: detection has no id")
	}
	vec := Embedding(det)
	meta := SimilarDetection{
		ID:          det.ID,
		PatternType: det.PatternType,
		ThreatLevel: det.ThreatLevel,
		ThreatScore: det.ThreatScore,
		Endpoint:    det.Request.Endpoint,
		SourceIP:    det.Request.SourceIP,
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if i, ok := x.byID[det.ID]; ok {
		x.entries[i] = vectorEntry{id: det.ID, vec: vec, meta: meta}
		return nil
	}
	x.byID[det.ID] = len(x.entries)
	x.entries = append(x.entries, vectorEntry{id: det.ID, vec: vec, meta: meta})
	return nil
}

// FindSimilar returns up to limit stored detections whose similarity to det
// is at least minScore, best first. det itself is excluded when indexed.
func (x *VectorIndex) FindSimilar(det Detection, limit int, minScore float64) []SimilarDetection {
	query := Embedding(det)

	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []SimilarDetection
	for _, e := range x.entries {
		if e.id == det.ID {
			continue
		}
		sim := cosineSimilarity(query, e.vec)
		if sim < minScore {
			continue
		}
		hit := e.meta
		hit.Similarity = math.Round(sim*1000) / 1000
		hits = append(hits, hit)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// ThreatClusters greedily groups stored detections by pairwise similarity.
// Only clusters with more than one member are reported.
func (x *VectorIndex) ThreatClusters(limit int) []ThreatCluster {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.entries) < 2 {
		return nil
	}

	var clusters []ThreatCluster
	claimed := make(map[string]struct{})
	for _, seed := range x.entries {
		if _, done := claimed[seed.id]; done {
			continue
		}
		var members []SimilarDetection
		for _, e := range x.entries {
			if _, done := claimed[e.id]; done {
				continue
			}
			sim := cosineSimilarity(seed.vec, e.vec)
			if sim < clusterSimilarity {
				continue
			}
			m := e.meta
			m.Similarity = math.Round(sim*1000) / 1000
			members = append(members, m)
			claimed[e.id] = struct{}{}
		}
		if len(members) > 1 {
			clusters = append(clusters, ThreatCluster{
				Size:           len(members),
				Members:        members,
				Representative: members[0],
			})
			if len(clusters) == limit {
				break
			}
		}
	}
	return clusters
}

// Size returns the number of indexed detections.
func (x *VectorIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Embedding converts a detection into its fixed 64-dimension feature vector.
// The layout is stable: endpoint text features, pattern and level one-hots,
// normalized score, per-detector flags and magnitudes, source hash, method
// weight, zero padding.
func Embedding(det Detection) []float64 {
	features := make([]float64, 0, embeddingDim)

	features = append(features, endpointFeatures(det.Request.Endpoint)...)

	patternHot := make([]float64, 4)
	switch det.PatternType {
	case PatternNormal:
		patternHot[0] = 1
	case PatternSuperhumanSpeed:
		patternHot[1] = 1
	case PatternSystematicEnumeration:
		patternHot[2] = 1
	case PatternBehavioralAnomaly:
		patternHot[3] = 1
	}
	features = append(features, patternHot...)

	levelHot := make([]float64, 3)
	switch det.ThreatLevel {
	case ThreatNormal:
		levelHot[0] = 1
	case ThreatSuspicious:
		levelHot[1] = 1
	case ThreatMalicious:
		levelHot[2] = 1
	}
	features = append(features, levelHot...)

	features = append(features, float64(det.ThreatScore)/100.0)

	features = append(features,
		boolFeature(det.Details.Speed.Detected),
		math.Min(det.Details.Speed.RequestsPerSecond/100.0, 1.0),
		boolFeature(det.Details.Enumeration.Detected),
		math.Min(float64(det.Details.Enumeration.SequenceLength)/20.0, 1.0),
		boolFeature(det.Details.Anomaly.Detected),
		math.Min(det.Details.Anomaly.ZScore/10.0, 1.0),
	)

	features = append(features, ipFeature(det.Request.SourceIP))
	features = append(features, methodFeature(det.Request.Method))

	for len(features) < embeddingDim {
		features = append(features, 0)
	}
	return features[:embeddingDim]
}

// endpointFeatures reduces the endpoint to 10 character-ordinal features over
// the path with numeric segments normalized to a placeholder.
func endpointFeatures(endpoint string) []float64 {
	base := strings.SplitN(endpoint, "?", 2)[0]
	parts := strings.Split(base, "/")
	for i, p := range parts {
		if p != "" && isDigits(p) {
			parts[i] = "ID"
		}
	}
	normalized := strings.ToLower(strings.Join(parts, "/"))

	features := make([]float64, 10)
	for i, c := range normalized {
		if i >= len(features) {
			break
		}
		features[i] = float64(int(c)%100) / 100.0
	}
	return features
}

func isDigits(s string) bool {
	for _, c := range s {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	return len(s) > 0
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ipFeature hashes the source address into a small stable bucket so requests
// from the same source embed close together.
func ipFeature(ip string) float64 {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return float64(h.Sum32()%1000) / 1000.0
}

func methodFeature(method string) float64 {
	switch method {
	case "POST":
		return 0.5
	case "PUT":
		return 0.75
	case "DELETE":
		return 1.0
	default:
		return 0.0
	}
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Either vector being zero yields 0.
func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
