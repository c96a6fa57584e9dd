package aidefense

import (
	"math"
	"testing"
	"time"
)

func enumerationDetection(id, ip, endpoint string) Detection {
	return Detection{
		ID:          id,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ThreatScore: 35,
		ThreatLevel: ThreatSuspicious,
		PatternType: PatternSystematicEnumeration,
		Request: Request{
			SourceIP: ip,
			Endpoint: endpoint,
			Method:   "GET",
		},
		Details: DetectionDetails{
			Enumeration: EnumerationResult{Detected: true, SequenceLength: 7},
		},
	}
}

func TestEmbeddingShape(t *testing.T) {
	vec := Embedding(enumerationDetection("a", "198.51.100.42", "/api/user/7"))
	if len(vec) != embeddingDim {
		t.Fatalf("expected %d dimensions, got %d", embeddingDim, len(vec))
	}
	for i, v := range vec {
		if v < 0 || v > 1 {
			t.Fatalf("feature %d out of [0,1]: %v", i, v)
		}
	}
}

func TestEmbeddingNormalizesNumericSegments(t *testing.T) {
	a := Embedding(enumerationDetection("a", "198.51.100.42", "/api/user/7"))
	b := Embedding(enumerationDetection("b", "198.51.100.42", "/api/user/9000"))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical embeddings for id-only difference, dim %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestCosineSimilarityIdentity(t *testing.T) {
	vec := Embedding(enumerationDetection("a", "198.51.100.42", "/api/user/7"))
	if sim := cosineSimilarity(vec, vec); math.Abs(sim-1) > 1e-9 {
		t.Fatalf("expected self-similarity 1, got %v", sim)
	}
	zero := make([]float64, embeddingDim)
	if sim := cosineSimilarity(vec, zero); sim != 0 {
		t.Fatalf("expected 0 against zero vector, got %v", sim)
	}
}

func TestVectorIndexFindSimilar(t *testing.T) {
	idx := NewVectorIndex()
	twin1 := enumerationDetection("twin-1", "198.51.100.42", "/api/user/1")
	twin2 := enumerationDetection("twin-2", "198.51.100.42", "/api/user/2")
	odd := Detection{
		ID:          "odd",
		ThreatScore: 0,
		ThreatLevel: ThreatNormal,
		PatternType: PatternNormal,
		Request:     Request{SourceIP: "10.0.0.1", Endpoint: "/api/checkout", Method: "POST"},
	}
	for _, d := range []Detection{twin1, twin2, odd} {
		if err := idx.Add(d); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if idx.Size() != 3 {
		t.Fatalf("expected 3 indexed, got %d", idx.Size())
	}

	hits := idx.FindSimilar(twin1, 5, 0.9)
	if len(hits) == 0 {
		t.Fatalf("expected the twin to be found")
	}
	if hits[0].ID != "twin-2" {
		t.Fatalf("expected twin-2 first, got %s", hits[0].ID)
	}
	for _, h := range hits {
		if h.ID == "twin-1" {
			t.Fatalf("query detection must not match itself")
		}
		if h.ID == "odd" {
			t.Fatalf("unrelated detection above 0.9 similarity")
		}
	}
}

func TestVectorIndexAddReplacesExisting(t *testing.T) {
	idx := NewVectorIndex()
	if err := idx.Add(enumerationDetection("a", "198.51.100.42", "/api/user/1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := idx.Add(enumerationDetection("a", "198.51.100.42", "/api/user/2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.Size() != 1 {
		t.Fatalf("expected re-add to replace, got size %d", idx.Size())
	}
}

func TestVectorIndexRejectsMissingID(t *testing.T) {
	idx := NewVectorIndex()
	if err := idx.Add(Detection{}); err == nil {
		t.Fatalf("expected error for detection without id")
	}
}

func TestVectorIndexThreatClusters(t *testing.T) {
	idx := NewVectorIndex()
	for i, id := range []string{"a", "b", "c"} {
		det := enumerationDetection(id, "198.51.100.42", "/api/user/"+string(rune('1'+i)))
		if err := idx.Add(det); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	clusters := idx.ThreatClusters(10)
	if len(clusters) != 1 {
		t.Fatalf("expected one cluster of near-identical detections, got %d", len(clusters))
	}
	if clusters[0].Size != 3 {
		t.Fatalf("expected cluster of 3, got %d", clusters[0].Size)
	}
	if clusters[0].Representative.ID == "" {
		t.Fatalf("expected a representative member")
	}
}

func TestVectorIndexClustersNeedTwoEntries(t *testing.T) {
	idx := NewVectorIndex()
	if err := idx.Add(enumerationDetection("only", "198.51.100.42", "/api/user/1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clusters := idx.ThreatClusters(10); clusters != nil {
		t.Fatalf("expected no clusters for a single entry, got %+v", clusters)
	}
}
