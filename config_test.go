package aidefense

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("SUPERHUMAN_SPEED_THRESHOLD", "25.5")
	t.Setenv("ENUMERATION_SEQUENCE_LENGTH", "8")
	t.Setenv("OLLAMA_ENABLED", "false")
	t.Setenv("OLLAMA_TIMEOUT_SECONDS", "30")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg := ConfigFromEnv()
	if cfg.SpeedThreshold != 25.5 {
		t.Fatalf("expected speed threshold 25.5, got %v", cfg.SpeedThreshold)
	}
	if cfg.SequenceLength != 8 {
		t.Fatalf("expected sequence length 8, got %d", cfg.SequenceLength)
	}
	if cfg.OllamaEnabled {
		t.Fatalf("expected ollama disabled")
	}
	if cfg.OllamaTimeout.Seconds() != 30 {
		t.Fatalf("expected 30s timeout, got %v", cfg.OllamaTimeout)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.ListenAddr)
	}
}

func TestConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("SUPERHUMAN_SPEED_THRESHOLD", "not-a-number")
	cfg := ConfigFromEnv()
	if cfg.SpeedThreshold != DefaultConfig().SpeedThreshold {
		t.Fatalf("expected fallback to default, got %v", cfg.SpeedThreshold)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.SpeedThreshold = 0 },
		func(c *Config) { c.SequenceLength = 1 },
		func(c *Config) { c.SequenceTolerance = -1 },
		func(c *Config) { c.ZScoreThreshold = -2 },
		func(c *Config) { c.MaxHistorySize = 0 },
		func(c *Config) { c.SpeedWindowSeconds = 0 },
		func(c *Config) { c.FeatureSampleSize = 0 },
	}
	for i, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestConfigOverlayMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.json")
	if err := os.WriteFile(path, []byte(`{"speedThreshold": 50, "enumerationSequenceLength": 7}`), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := DefaultConfig().WithOverlayFile(path)
	if err != nil {
		t.Fatalf("overlay failed: %v", err)
	}
	if cfg.SpeedThreshold != 50 {
		t.Fatalf("expected overlaid threshold 50, got %v", cfg.SpeedThreshold)
	}
	if cfg.SequenceLength != 7 {
		t.Fatalf("expected overlaid length 7, got %d", cfg.SequenceLength)
	}
	// Untouched fields keep their base values.
	if cfg.ZScoreThreshold != DefaultConfig().ZScoreThreshold {
		t.Fatalf("unrelated field changed: %v", cfg.ZScoreThreshold)
	}
}

func TestConfigOverlayMissingFileIsNoop(t *testing.T) {
	cfg, err := DefaultConfig().WithOverlayFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing overlay must not error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected base config back, got %+v", cfg)
	}
}

func TestConfigOverlayMalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.json")
	if err := os.WriteFile(path, []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	if _, err := DefaultConfig().WithOverlayFile(path); err == nil {
		t.Fatalf("expected parse error for malformed overlay")
	}
}
