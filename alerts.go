package aidefense

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/log"
	"github.com/redis/go-redis/v9"
)

// alertHistoryRetention is how long published detections stay in the Redis
// history sorted set.
const alertHistoryRetention = 24 * time.Hour

// AlertPublisher pushes detections to external subscribers, typically a
// dashboard listening on a pub/sub channel.
type AlertPublisher interface {
	Publish(ctx context.Context, det Detection) error
	Close() error
}

// RedisAlertPublisher publishes detections to a Redis channel and mirrors
// them into a time-indexed history set for late-joining consumers.
type RedisAlertPublisher struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisAlertPublisher connects to Redis and verifies it with a ping.
func NewRedisAlertPublisher(addr, password string, db int, logger *log.Logger) (*RedisAlertPublisher, error) {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("alerts: connect to redis at %s: %v", addr, err)
	}
	return &RedisAlertPublisher{
		client:  client,
		channel: "threat-alerts",
		logger:  logger,
	}, nil
}

// Publish sends the detection to the alert channel and records it in the
// history set, trimming entries past the retention window.
func (p *RedisAlertPublisher) Publish(ctx context.Context, det Detection) error {
	data, err := json.Marshal(det)
	if err != nil {
		return fmt.Errorf("alerts: encode detection %s: %v", det.ID, err)
	}

	if err := p.client.Publish(ctx, p.channel, string(data)).Err(); err != nil {
		return fmt.Errorf("alerts: publish detection %s: %v", det.ID, err)
	}

	if err := p.client.ZAdd(ctx, "detections:history", redis.Z{
		Score:  float64(det.Timestamp.Unix()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("alerts: record detection %s in history: %v", det.ID, err)
	}

	cutoff := float64(time.Now().Add(-alertHistoryRetention).Unix())
	if err := p.client.ZRemRangeByScore(ctx, "detections:history", "-inf", fmt.Sprintf("%f", cutoff)).Err(); err != nil {
		p.logger.Warn().Err(err).Msg("history trim failed")
	}
	return nil
}

// History returns detections published within the trailing window, oldest
// first.
func (p *RedisAlertPublisher) History(ctx context.Context, window time.Duration) ([]Detection, error) {
	since := time.Now().Add(-window).Unix()
	results, err := p.client.ZRangeByScore(ctx, "detections:history", &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("alerts: read history: %v", err)
	}

	detections := make([]Detection, 0, len(results))
	for _, raw := range results {
		var det Detection
		if err := json.Unmarshal([]byte(raw), &det); err != nil {
			continue
		}
		detections = append(detections, det)
	}
	return detections, nil
}

// Close releases the Redis connection.
func (p *RedisAlertPublisher) Close() error {
	return p.client.Close()
}
