package main

import (
	"encoding/json"
	"flag"
	"time"

	"github.com/oarkflow/log"
	"github.com/valyala/fasthttp"

	aidefense "github.com/khaosans/ai-cyberattack-defense"
)

func main() {
	var (
		target      = flag.String("target", "http://localhost:8080/api/analyze", "analyze endpoint to post traffic to")
		count       = flag.Int("count", 200, "number of requests to send")
		attackRatio = flag.Float64("attack-ratio", 0.3, "fraction of requests belonging to the simulated attack")
		interval    = flag.Duration("interval", 50*time.Millisecond, "delay between requests")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "rng seed for reproducible traffic")
	)
	flag.Parse()

	logger := log.Logger{
		Level:      log.InfoLevel,
		TimeFormat: time.RFC3339,
		Writer:     &log.ConsoleWriter{ColorOutput: true},
	}

	sim := aidefense.NewTrafficSimulator(*seed)
	client := &fasthttp.Client{}

	logger.Info().
		Str("target", *target).
		Int("count", *count).
		Float64("attack_ratio", *attackRatio).
		Msg("starting traffic simulation")

	sent, failed, flagged := 0, 0, 0
	for _, req := range sim.Batch(*count, *attackRatio) {
		req.Timestamp = time.Now()
		det, err := post(client, *target, req)
		if err != nil {
			failed++
			logger.Warn().Err(err).Msg("request failed")
		} else {
			sent++
			if det.ThreatLevel != aidefense.ThreatNormal {
				flagged++
			}
		}
		time.Sleep(*interval)
	}

	logger.Info().
		Int("sent", sent).
		Int("failed", failed).
		Int("flagged", flagged).
		Msg("simulation finished")
}

func post(client *fasthttp.Client, target string, r aidefense.Request) (aidefense.Detection, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return aidefense.Detection{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := client.DoTimeout(req, resp, 10*time.Second); err != nil {
		return aidefense.Detection{}, err
	}

	var det aidefense.Detection
	if err := json.Unmarshal(resp.Body(), &det); err != nil {
		return aidefense.Detection{}, err
	}
	return det, nil
}
