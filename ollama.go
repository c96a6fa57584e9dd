package aidefense

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/log"
	"github.com/valyala/fasthttp"
)

// probeTimeout bounds the availability check against /api/tags.
const probeTimeout = 3 * time.Second

// OllamaClient talks to a local Ollama server for intent classification and
// natural language reporting. Every method degrades gracefully: when the
// server is unreachable or disabled, callers get a canned fallback instead of
// an error they must handle.
type OllamaClient struct {
	host    string
	model   string
	enabled bool
	timeout time.Duration
	logger  *log.Logger
	client  *fasthttp.Client

	mu        sync.Mutex
	probed    bool
	available bool
}

// NewOllamaClient builds a client from cfg. No network traffic happens until
// the first call; availability is probed lazily and cached.
func NewOllamaClient(cfg Config, logger *log.Logger) *OllamaClient {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &OllamaClient{
		host:    strings.TrimRight(cfg.OllamaHost, "/"),
		model:   cfg.OllamaModel,
		enabled: cfg.OllamaEnabled,
		timeout: cfg.OllamaTimeout,
		logger:  logger,
		client:  &fasthttp.Client{},
	}
}

// Available reports whether the Ollama server answers and serves at least one
// model. The first call probes /api/tags; the result is cached.
func (c *OllamaClient) Available() bool {
	if !c.enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probed {
		return c.available
	}
	c.probed = true
	c.available = c.probe()
	return c.available
}

func (c *OllamaClient) probe() bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.host + "/api/tags")
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.client.DoTimeout(req, resp, probeTimeout); err != nil {
		c.logger.Warn().Err(err).Str("host", c.host).Msg("ollama not reachable")
		return false
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Warn().Int("status", resp.StatusCode()).Msg("ollama tags endpoint returned error")
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(resp.Body(), &tags); err != nil || len(tags.Models) == 0 {
		c.logger.Warn().Msg("ollama reachable but no models installed")
		return false
	}

	names := make([]string, len(tags.Models))
	found := false
	for i, m := range tags.Models {
		names[i] = m.Name
		if m.Name == c.model {
			found = true
		}
	}
	if !found {
		c.logger.Info().
			Str("configured", c.model).
			Str("using", names[0]).
			Msg("configured model not installed, falling back to first available")
		c.model = names[0]
	}
	c.logger.Info().Str("model", c.model).Msg("ollama connected")
	return true
}

// ClassifyIntent implements IntentClassifier. The model is asked for a JSON
// verdict; malformed output is an error outcome, an unreachable server is an
// unavailable outcome.
func (c *OllamaClient) ClassifyIntent(ctx context.Context, det Detection, recent []Request) IntentOutcome {
	if !c.Available() {
		return IntentUnavailable()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Analyze this HTTP request and classify its intent.

Request:
- Endpoint: %s
- Method: %s
- User Agent: %s
- Detected Pattern: %s
- Threat Score: %d/100
`, det.Request.Endpoint, det.Request.Method, det.Request.UserAgent, det.PatternType, det.ThreatScore)

	if len(recent) > 0 {
		sb.WriteString("\nRecent requests from the same source:\n")
		for i, r := range recent {
			fmt.Fprintf(&sb, "%d. %s %s\n", i+1, r.Method, r.Endpoint)
		}
	}
	sb.WriteString(`
Classify as one of: reconnaissance, enumeration, exploitation, data_access, normal, or suspicious.

Respond in JSON format:
{"intent": "classification", "confidence": 0.0-1.0, "reasoning": "explanation"}`)

	raw, err := c.generate(ctx, sb.String(), true)
	if err != nil {
		return IntentError(err)
	}
	verdict, err := parseVerdict(raw)
	if err != nil {
		return IntentError(err)
	}
	return IntentOK(verdict)
}

// parseVerdict decodes the model's JSON verdict, tolerating surrounding prose
// by falling back to the first braced object in the text.
func parseVerdict(raw string) (IntentVerdict, error) {
	var v IntentVerdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil && v.Intent != "" {
		v.Intent = strings.ToLower(strings.TrimSpace(v.Intent))
		return v, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err == nil && v.Intent != "" {
			v.Intent = strings.ToLower(strings.TrimSpace(v.Intent))
			return v, nil
		}
	}
	return IntentVerdict{}, fmt.Errorf("ollama: unparsable intent verdict: %q", truncate(raw, 200))
}

// ExplainThreat generates a short natural language explanation of a
// detection, or a terse fallback if the model is unavailable.
func (c *OllamaClient) ExplainThreat(ctx context.Context, det Detection) string {
	fallback := fmt.Sprintf("Threat detected: %s (score %d/100)", det.PatternType, det.ThreatScore)
	if !c.Available() {
		return fallback
	}

	details, _ := json.MarshalIndent(det.Details, "", "  ")
	prompt := fmt.Sprintf(`You are a cybersecurity expert. Explain this threat detection in clear, concise language.

Threat Detection:
- Pattern Type: %s
- Threat Score: %d/100
- Details: %s

Provide a 2-3 sentence explanation of:
1. What this threat is
2. Why it's suspicious
3. What it might indicate

Keep it technical but accessible:`, det.PatternType, det.ThreatScore, details)

	raw, err := c.generate(ctx, prompt, false)
	if err != nil {
		c.logger.Warn().Err(err).Msg("threat explanation failed")
		return fallback
	}
	return strings.TrimSpace(raw)
}

// SuggestResponse asks the model for actionable steps, returning a fixed
// checklist when unavailable or when the model produces nothing usable.
func (c *OllamaClient) SuggestResponse(ctx context.Context, det Detection) []string {
	fallback := []string{
		"Review detection logs",
		"Check network traffic",
		"Verify endpoint security",
	}
	if !c.Available() {
		return fallback
	}

	prompt := fmt.Sprintf(`You are a cybersecurity incident responder. Based on this threat detection, recommend specific security actions.

Threat Detection:
- Pattern: %s
- Score: %d/100
- Endpoint: %s
- IP: %s

Provide 3-5 specific, actionable security recommendations. Format as a numbered list:`,
		det.PatternType, det.ThreatScore, det.Request.Endpoint, det.Request.SourceIP)

	raw, err := c.generate(ctx, prompt, false)
	if err != nil {
		c.logger.Warn().Err(err).Msg("response suggestion failed")
		return fallback
	}

	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line[0] >= '0' && line[0] <= '9' || strings.HasPrefix(line, "-") {
			out = append(out, line)
		}
		if len(out) == 5 {
			break
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// IncidentReport summarizes a batch of detections as a markdown report. When
// the model is unavailable it renders a plain tabulated report instead.
func (c *OllamaClient) IncidentReport(ctx context.Context, detections []Detection) string {
	if len(detections) == 0 {
		return "No detections to report."
	}
	if !c.Available() {
		return basicReport(detections)
	}

	malicious, suspicious := 0, 0
	patterns := make(map[PatternType]int)
	for _, d := range detections {
		switch d.ThreatLevel {
		case ThreatMalicious:
			malicious++
		case ThreatSuspicious:
			suspicious++
		}
		patterns[d.PatternType]++
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Generate a professional cybersecurity incident report based on these detections.

Summary:
- Total Detections: %d
- Malicious: %d
- Suspicious: %d
- Pattern Types: %v

Recent Detections:
`, len(detections), malicious, suspicious, patterns)

	tail := detections
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	for _, d := range tail {
		fmt.Fprintf(&sb, "- %s (Score: %d) from %s at %s\n", d.PatternType, d.ThreatScore, d.Request.SourceIP, d.Request.Endpoint)
	}
	sb.WriteString(`
Generate a professional incident report with:
1. Executive Summary
2. Threat Assessment
3. Affected Systems
4. Recommended Actions

Format as markdown:`)

	raw, err := c.generate(ctx, sb.String(), false)
	if err != nil {
		c.logger.Warn().Err(err).Msg("incident report generation failed")
		return basicReport(detections)
	}
	return strings.TrimSpace(raw)
}

// basicReport is the markdown report rendered without model assistance.
func basicReport(detections []Detection) string {
	malicious, suspicious := 0, 0
	for _, d := range detections {
		switch d.ThreatLevel {
		case ThreatMalicious:
			malicious++
		case ThreatSuspicious:
			suspicious++
		}
	}

	var sb strings.Builder
	sb.WriteString("# Incident Report\n\n")
	fmt.Fprintf(&sb, "**Total Detections:** %d\n\n", len(detections))
	sb.WriteString("**Threat Levels:**\n")
	fmt.Fprintf(&sb, "- Malicious: %d\n", malicious)
	fmt.Fprintf(&sb, "- Suspicious: %d\n\n", suspicious)
	sb.WriteString("**Recent Detections:**\n")
	tail := detections
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}
	for _, d := range tail {
		fmt.Fprintf(&sb, "- %s (Score: %d) from %s\n", d.PatternType, d.ThreatScore, d.Request.SourceIP)
	}
	return sb.String()
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generatePayload struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

// generate performs one non-streaming completion and returns the raw response
// text. The call honors the earlier of ctx's deadline and the configured
// timeout.
func (c *OllamaClient) generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	payload := generatePayload{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: 0.7, TopP: 0.9},
	}
	if jsonMode {
		payload.Format = "json"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ollama: encode request: %v", err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return "", context.DeadlineExceeded
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.host + "/api/generate")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		return "", fmt.Errorf("ollama: generate: %v", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", fmt.Errorf("ollama: generate returned status %d", resp.StatusCode())
	}

	var decoded struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return "", fmt.Errorf("ollama: decode response: %v", err)
	}
	return decoded.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
