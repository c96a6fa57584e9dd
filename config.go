package aidefense

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the engine and its collaborators read. It is
// read once at construction; changing it afterwards has no effect on already
// built engines.
type Config struct {
	// Detection thresholds.
	SpeedThreshold    float64 // requests per second
	SequenceLength    int     // minimum enumeration sequence length
	SequenceTolerance int     // allowed distinct step sizes minus one
	ZScoreThreshold   float64

	// Request history.
	MaxHistorySize     int
	SpeedWindowSeconds int
	FeatureSampleSize  int // rolling series cap per anomaly feature

	// Ollama AI integration.
	OllamaEnabled bool
	OllamaHost    string
	OllamaModel   string
	OllamaTimeout time.Duration

	// Collaborators.
	DatabasePath  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ListenAddr    string
}

// DefaultConfig returns the fixed defaults the original deployment shipped
// with.
func DefaultConfig() Config {
	return Config{
		SpeedThreshold:     10.0,
		SequenceLength:     5,
		SequenceTolerance:  1,
		ZScoreThreshold:    2.0,
		MaxHistorySize:     1000,
		SpeedWindowSeconds: 10,
		FeatureSampleSize:  100,
		OllamaEnabled:      true,
		OllamaHost:         "http://localhost:11434",
		OllamaModel:        "llama3.2:3b",
		OllamaTimeout:      15 * time.Second,
		DatabasePath:       "detections.db",
		ListenAddr:         ":8080",
	}
}

// ConfigFromEnv builds a Config from the environment, falling back to
// DefaultConfig for anything unset or unparsable.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.SpeedThreshold = envFloat("SUPERHUMAN_SPEED_THRESHOLD", cfg.SpeedThreshold)
	cfg.SequenceLength = envInt("ENUMERATION_SEQUENCE_LENGTH", cfg.SequenceLength)
	cfg.ZScoreThreshold = envFloat("ANOMALY_Z_SCORE_THRESHOLD", cfg.ZScoreThreshold)
	cfg.MaxHistorySize = envInt("MAX_HISTORY_SIZE", cfg.MaxHistorySize)
	cfg.SpeedWindowSeconds = envInt("SPEED_WINDOW_SECONDS", cfg.SpeedWindowSeconds)
	cfg.OllamaEnabled = envBool("OLLAMA_ENABLED", cfg.OllamaEnabled)
	cfg.OllamaHost = envString("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OllamaModel = envString("OLLAMA_MODEL", cfg.OllamaModel)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.RedisAddr = envString("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envString("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB)
	cfg.ListenAddr = envString("LISTEN_ADDR", cfg.ListenAddr)
	if secs := envInt("OLLAMA_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.OllamaTimeout = time.Duration(secs) * time.Second
	}
	return cfg
}

// Validate rejects configurations the detectors cannot run with. A failed
// validation is fatal at construction time; nothing later re-checks.
func (c Config) Validate() error {
	if c.SpeedThreshold <= 0 {
		return fmt.Errorf("config: speed threshold must be positive, got %v", c.SpeedThreshold)
	}
	if c.SequenceLength < 2 {
		return fmt.Errorf("config: enumeration sequence length must be at least 2, got %d", c.SequenceLength)
	}
	if c.SequenceTolerance < 0 {
		return fmt.Errorf("config: sequence tolerance must not be negative, got %d", c.SequenceTolerance)
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("config: z-score threshold must be positive, got %v", c.ZScoreThreshold)
	}
	if c.MaxHistorySize <= 0 {
		return fmt.Errorf("config: history size must be positive, got %d", c.MaxHistorySize)
	}
	if c.SpeedWindowSeconds <= 0 {
		return fmt.Errorf("config: speed window must be positive, got %d", c.SpeedWindowSeconds)
	}
	if c.FeatureSampleSize <= 0 {
		return fmt.Errorf("config: feature sample size must be positive, got %d", c.FeatureSampleSize)
	}
	return nil
}

// ConfigOverlay is an optional JSON file overriding detection thresholds,
// typically hot-reloaded by the server. Absent fields keep the base value.
type ConfigOverlay struct {
	SpeedThreshold     *float64 `json:"speedThreshold,omitempty"`
	SequenceLength     *int     `json:"enumerationSequenceLength,omitempty"`
	ZScoreThreshold    *float64 `json:"anomalyZScoreThreshold,omitempty"`
	MaxHistorySize     *int     `json:"maxHistorySize,omitempty"`
	SpeedWindowSeconds *int     `json:"speedWindowSeconds,omitempty"`
}

// WithOverlayFile merges a JSON overlay file into the receiver and returns
// the result. A missing file is not an error; a malformed one is.
func (c Config) WithOverlayFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("config: failed to read overlay %s: %v", path, err)
	}
	var overlay ConfigOverlay
	if err := json.Unmarshal(data, &overlay); err != nil {
		return c, fmt.Errorf("config: failed to parse overlay %s: %v", path, err)
	}
	return c.withOverlay(overlay), nil
}

func (c Config) withOverlay(o ConfigOverlay) Config {
	if o.SpeedThreshold != nil {
		c.SpeedThreshold = *o.SpeedThreshold
	}
	if o.SequenceLength != nil {
		c.SequenceLength = *o.SequenceLength
	}
	if o.ZScoreThreshold != nil {
		c.ZScoreThreshold = *o.ZScoreThreshold
	}
	if o.MaxHistorySize != nil {
		c.MaxHistorySize = *o.MaxHistorySize
	}
	if o.SpeedWindowSeconds != nil {
		c.SpeedWindowSeconds = *o.SpeedWindowSeconds
	}
	return c
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
