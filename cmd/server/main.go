package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/oarkflow/log"

	aidefense "github.com/khaosans/ai-cyberattack-defense"
)

func main() {
	logger := log.Logger{
		Level:      log.InfoLevel,
		TimeFormat: time.RFC3339,
		Writer:     &log.ConsoleWriter{ColorOutput: true},
	}

	overlayPath := os.Getenv("CONFIG_OVERLAY")
	if overlayPath == "" {
		overlayPath = "config.json"
	}

	cfg := aidefense.ConfigFromEnv()
	cfg, err := cfg.WithOverlayFile(overlayPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config overlay")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	metrics := aidefense.NewInMemoryMetricsCollector()
	vectors := aidefense.NewVectorIndex()

	store, err := aidefense.NewSQLiteDetectionStore(cfg.DatabasePath, vectors, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open detection store")
	}
	defer store.Close()

	ollama := aidefense.NewOllamaClient(cfg, &logger)
	rescorer := aidefense.NewRescorer(ollama, cfg.OllamaTimeout, &logger)

	analyzer, err := aidefense.NewShardedAnalyzer(cfg,
		aidefense.WithRescorer(rescorer),
		aidefense.WithMetrics(metrics),
		aidefense.WithLogger(&logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build analyzer")
	}

	ledger := aidefense.NewThreatLedger(5 * time.Minute)

	var alerts aidefense.AlertPublisher
	if cfg.RedisAddr != "" {
		publisher, err := aidefense.NewRedisAlertPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, &logger)
		if err != nil {
			logger.Warn().Err(err).Msg("alert publishing disabled")
		} else {
			alerts = publisher
			defer publisher.Close()
		}
	}

	pipeline := aidefense.NewPipeline(analyzer, store, ledger, alerts, &logger)

	watcher, err := aidefense.NewConfigWatcher(aidefense.ConfigFromEnv(), overlayPath, func(next aidefense.Config) {
		if err := analyzer.Reconfigure(next); err != nil {
			logger.Error().Err(err).Msg("reconfigure rejected")
		}
	}, &logger)
	if err != nil {
		logger.Warn().Err(err).Msg("config hot reload disabled")
	} else {
		defer watcher.Close()
	}

	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ledger.Cleanup()
			case <-stopCleanup:
				return
			}
		}
	}()
	defer close(stopCleanup)

	app := fiber.New(fiber.Config{AppName: "ai-cyberattack-defense"})

	app.Post("/api/analyze", func(c fiber.Ctx) error {
		var req aidefense.Request
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}
		if req.SourceIP == "" {
			req.SourceIP = c.IP()
		}
		return c.JSON(pipeline.Process(req))
	})

	app.Get("/api/detections", func(c fiber.Ctx) error {
		limit := queryInt(c, "limit", 100)
		window := time.Duration(queryInt(c, "minutes", 0)) * time.Minute
		detections, err := store.Recent(limit, window)
		if err != nil {
			return serverError(c, err)
		}
		return c.JSON(fiber.Map{"detections": detections, "count": len(detections)})
	})

	app.Get("/api/detections/:level", func(c fiber.Ctx) error {
		level := aidefense.ThreatLevel(c.Params("level"))
		switch level {
		case aidefense.ThreatNormal, aidefense.ThreatSuspicious, aidefense.ThreatMalicious:
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown threat level"})
		}
		detections, err := store.ByThreatLevel(level, queryInt(c, "limit", 100))
		if err != nil {
			return serverError(c, err)
		}
		return c.JSON(fiber.Map{"detections": detections, "count": len(detections)})
	})

	app.Get("/api/stats", func(c fiber.Ctx) error {
		window := time.Duration(queryInt(c, "minutes", 0)) * time.Minute
		stats, err := store.Statistics(window)
		if err != nil {
			return serverError(c, err)
		}
		return c.JSON(stats)
	})

	app.Get("/api/patterns", func(c fiber.Ctx) error {
		window := time.Duration(queryInt(c, "minutes", 0)) * time.Minute
		dist, err := store.PatternDistribution(window)
		if err != nil {
			return serverError(c, err)
		}
		return c.JSON(dist)
	})

	app.Get("/api/threats", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"active":  ledger.Snapshot(),
			"summary": ledger.Summary(),
		})
	})

	app.Get("/api/similar/:id", func(c fiber.Ctx) error {
		det, err := store.Get(c.Params("id"))
		if err != nil {
			if errors.Is(err, aidefense.ErrDetectionNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "detection not found"})
			}
			return serverError(c, err)
		}
		similar := vectors.FindSimilar(det, queryInt(c, "limit", 5), 0.5)
		return c.JSON(fiber.Map{"detection": det, "similar": similar})
	})

	app.Get("/api/clusters", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"clusters": vectors.ThreatClusters(queryInt(c, "limit", 10))})
	})

	app.Get("/api/report", func(c fiber.Ctx) error {
		window := time.Duration(queryInt(c, "minutes", 60)) * time.Minute
		detections, err := store.Recent(queryInt(c, "limit", 50), window)
		if err != nil {
			return serverError(c, err)
		}
		ctx, cancel := context.WithTimeout(c.Context(), cfg.OllamaTimeout)
		defer cancel()
		return c.JSON(fiber.Map{"report": ollama.IncidentReport(ctx, detections)})
	})

	app.Get("/metrics", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(metrics.ExportPrometheus())
	})

	app.Get("/healthz", func(c fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		if err := store.HealthCheck(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "error": err.Error()})
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"sources": analyzer.Sources(),
			"vectors": vectors.Size(),
			"ollama":  ollama.Available(),
		})
	})

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("server listening")
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func queryInt(c fiber.Ctx, key string, fallback int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func serverError(c fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
