package aidefense

import (
	"strings"
	"testing"
)

func TestParseVerdictCleanJSON(t *testing.T) {
	v, err := parseVerdict(`{"intent": "Enumeration", "confidence": 0.85, "reasoning": "sequential ids"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Intent != "enumeration" {
		t.Fatalf("expected lowercased intent, got %q", v.Intent)
	}
	if v.Confidence != 0.85 {
		t.Fatalf("expected confidence 0.85, got %v", v.Confidence)
	}
}

func TestParseVerdictEmbeddedInProse(t *testing.T) {
	raw := `Sure, here is my analysis:
{"intent": "reconnaissance", "confidence": 0.7, "reasoning": "probing"}
Let me know if you need more.`
	v, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Intent != "reconnaissance" {
		t.Fatalf("unexpected intent %q", v.Intent)
	}
}

func TestParseVerdictGarbage(t *testing.T) {
	if _, err := parseVerdict("the model refused to answer"); err == nil {
		t.Fatalf("expected error for unparsable output")
	}
	if _, err := parseVerdict(`{"confidence": 0.9}`); err == nil {
		t.Fatalf("expected error when intent is missing")
	}
}

func TestOllamaDisabledIsUnavailable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OllamaEnabled = false
	client := NewOllamaClient(cfg, nil)
	if client.Available() {
		t.Fatalf("disabled client must report unavailable")
	}

	det := sampleDetection(65, PatternSystematicEnumeration)
	out := client.ClassifyIntent(t.Context(), det, nil)
	if out.Status != OutcomeUnavailable {
		t.Fatalf("expected unavailable outcome, got %+v", out)
	}
	if got := client.ExplainThreat(t.Context(), det); !strings.Contains(got, string(det.PatternType)) {
		t.Fatalf("expected fallback explanation naming the pattern, got %q", got)
	}
	if recs := client.SuggestResponse(t.Context(), det); len(recs) == 0 {
		t.Fatalf("expected canned recommendations")
	}
}

func TestBasicReport(t *testing.T) {
	detections := []Detection{
		sampleDetection(90, PatternSuperhumanSpeed),
		sampleDetection(45, PatternBehavioralAnomaly),
	}
	report := basicReport(detections)
	if !strings.Contains(report, "# Incident Report") {
		t.Fatalf("expected markdown header, got %q", report)
	}
	if !strings.Contains(report, "Malicious: 1") || !strings.Contains(report, "Suspicious: 1") {
		t.Fatalf("expected level tallies, got %q", report)
	}
}

func TestIncidentReportEmptyInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OllamaEnabled = false
	client := NewOllamaClient(cfg, nil)
	if got := client.IncidentReport(t.Context(), nil); got != "No detections to report." {
		t.Fatalf("unexpected report %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Fatalf("unexpected %q", got)
	}
}
