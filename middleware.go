package aidefense

import (
	"time"

	"github.com/gofiber/fiber/v3"
)

// MiddlewareConfig controls the inline detection middleware.
type MiddlewareConfig struct {
	// BlockMalicious rejects requests whose detection comes back MALICIOUS
	// with 403 instead of passing them through.
	BlockMalicious bool
}

// NewMiddleware returns a fiber handler that feeds every request through the
// pipeline before the application sees it. The detection id is exposed to
// downstream handlers via locals under "detection".
func NewMiddleware(pipeline *Pipeline, cfg MiddlewareConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		det := pipeline.Process(RequestFromCtx(c))
		c.Locals("detection", det)

		if cfg.BlockMalicious && det.ThreatLevel == ThreatMalicious {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":        "request blocked",
				"detection_id": det.ID,
				"threat_level": det.ThreatLevel,
			})
		}
		return c.Next()
	}
}

// RequestFromCtx extracts the detection-relevant fields from an in-flight
// fiber request.
func RequestFromCtx(c fiber.Ctx) Request {
	endpoint := c.Path()
	params := c.Queries()
	if len(params) > 0 {
		endpoint = string(c.RequestCtx().URI().RequestURI())
	}
	return Request{
		Timestamp:  time.Now(),
		SourceIP:   c.IP(),
		Endpoint:   endpoint,
		Method:     c.Method(),
		UserAgent:  c.Get(fiber.HeaderUserAgent),
		Parameters: params,
	}
}
