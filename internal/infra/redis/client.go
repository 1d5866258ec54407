package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fatihaltiok/Agentus-Timus-sub001/internal/core/domain"
)

const (
	alertsKey   = "agentus:alerts"
	snapshotKey = "agentus:snapshot"

	// Alerts older than this roll off the list.
	maxAlerts = 500
)

// Client wraps Redis operations for alerting and state snapshots.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Alert records a handler chain exhaustion for external consumers.
type Alert struct {
	TaskID    string    `json:"task_id"`
	Handler   string    `json:"handler"`
	Attempts  []string  `json:"attempts"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// PushAlert appends an alert to the alerts list, trimming old entries.
func (c *Client) PushAlert(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, alertsKey, data)
	pipe.LTrim(ctx, alertsKey, 0, maxAlerts-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// RecentAlerts returns up to n most recent alerts, newest first.
func (c *Client) RecentAlerts(ctx context.Context, n int64) ([]Alert, error) {
	items, err := c.rdb.LRange(ctx, alertsKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	alerts := make([]Alert, 0, len(items))
	for _, item := range items {
		var a Alert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue // skip malformed entries
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// SaveSnapshot persists the latest queue stats for external consumers.
func (c *Client) SaveSnapshot(ctx context.Context, stats map[domain.TaskStatus]int) error {
	fields := map[string]interface{}{
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	for status, count := range stats {
		fields[string(status)] = count
	}

	if err := c.rdb.HSet(ctx, snapshotKey, fields).Err(); err != nil {
		return fmt.Errorf("hset failed: %w", err)
	}
	return nil
}

// GetSnapshot returns the last saved queue stats snapshot.
func (c *Client) GetSnapshot(ctx context.Context) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, snapshotKey).Result()
}
