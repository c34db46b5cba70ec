package bus

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	itemsStream  = "cti:items"
	alertsStream = "cti:alerts"
)

// RedisBus provides Redis Streams-based messaging for the pipeline.
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisBus creates a new Redis bus instance
func NewRedisBus(redisURL string, logger *log.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger == nil {
		logger = log.New(log.Writer(), "[RedisBus] ", log.LstdFlags)
	}

	return &RedisBus{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (rb *RedisBus) Close() error {
	return rb.client.Close()
}

// PublishItem publishes an ingested item to the items stream
func (rb *RedisBus) PublishItem(ctx context.Context, itemMsg ItemMessage) error {
	fields := map[string]interface{}{
		"item_id":   itemMsg.ItemID,
		"source":    itemMsg.Source,
		"severity":  itemMsg.Severity,
		"title":     itemMsg.Title,
		"timestamp": itemMsg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: itemsStream,
		Values: fields,
	})

	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish item: %w", err)
	}

	rb.logger.Printf("Published item %s to %s stream", itemMsg.ItemID, itemsStream)
	return nil
}

// PublishAlert publishes a created alert to the alerts stream
func (rb *RedisBus) PublishAlert(ctx context.Context, alertMsg AlertMessage) error {
	fields := map[string]interface{}{
		"alert_id":        alertMsg.AlertID,
		"organization_id": alertMsg.OrganizationID,
		"user_id":         alertMsg.UserID,
		"asset_id":        alertMsg.AssetID,
		"type":            alertMsg.Type,
		"title":           alertMsg.Title,
		"cve_ids":         strings.Join(alertMsg.CVEIDs, ","),
		"timestamp":       alertMsg.Timestamp,
	}

	result := rb.client.XAdd(ctx, &redis.XAddArgs{
		Stream: alertsStream,
		Values: fields,
	})

	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	rb.logger.Printf("Published alert %s for organization %s",
		alertMsg.AlertID, alertMsg.OrganizationID)
	return nil
}

// GetStreamInfo returns information about a stream
func (rb *RedisBus) GetStreamInfo(ctx context.Context, stream string) (*redis.XInfoStream, error) {
	result := rb.client.XInfoStream(ctx, stream)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get stream info for %s: %w", stream, err)
	}
	return result.Val(), nil
}

// CleanupOldMessages trims both streams to maxLen entries to prevent
// unbounded memory growth in Redis
func (rb *RedisBus) CleanupOldMessages(ctx context.Context, maxLen int64) error {
	for _, stream := range []string{itemsStream, alertsStream} {
		result := rb.client.XTrimMaxLen(ctx, stream, maxLen)
		if err := result.Err(); err != nil {
			return fmt.Errorf("failed to trim stream %s: %w", stream, err)
		}
		rb.logger.Printf("Trimmed stream %s to max length %d", stream, maxLen)
	}
	return nil
}

// HealthCheck performs a health check on the Redis connection
func (rb *RedisBus) HealthCheck(ctx context.Context) error {
	return rb.client.Ping(ctx).Err()
}

// GetStats returns basic statistics about the Redis streams
func (rb *RedisBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	for _, stream := range []string{itemsStream, alertsStream} {
		info, err := rb.GetStreamInfo(ctx, stream)
		if err != nil {
			continue
		}
		stats[stream] = map[string]interface{}{
			"length":         info.Length,
			"first_entry_id": info.FirstEntry.ID,
			"last_entry_id":  info.LastEntry.ID,
		}
	}

	return stats, nil
}
