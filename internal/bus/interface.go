// Package bus publishes pipeline output (ingested items, correlation
// alerts) to Redis Streams for downstream notification consumers. When
// Redis is not configured or unreachable, the null implementation keeps
// the pipeline running without messaging.
package bus

import (
	"context"
	"io"
	"log"
)

// ItemMessage announces a newly persisted CTI item on the items stream.
type ItemMessage struct {
	ItemID    string `json:"item_id"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
}

// AlertMessage announces a correlation-generated alert on the alerts
// stream. Notification channels consume it downstream.
type AlertMessage struct {
	AlertID        string   `json:"alert_id"`
	OrganizationID string   `json:"organization_id"`
	UserID         string   `json:"user_id"`
	AssetID        string   `json:"asset_id"`
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	CVEIDs         []string `json:"cve_ids"`
	Timestamp      int64    `json:"timestamp"`
}

// Bus defines the interface for event bus implementations
type Bus interface {
	// PublishItem publishes an ingested item to the items stream
	PublishItem(ctx context.Context, itemMsg ItemMessage) error

	// PublishAlert publishes a created alert to the alerts stream
	PublishAlert(ctx context.Context, alertMsg AlertMessage) error

	// GetStats returns basic statistics about the bus
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// CleanupOldMessages trims the streams to maxLen entries so long-running
	// deployments do not grow Redis without bound
	CleanupOldMessages(ctx context.Context, maxLen int64) error

	// HealthCheck performs a health check on the bus connection
	HealthCheck(ctx context.Context) error

	// Close closes the bus connection
	Close() error
}

// NewBus creates a new bus instance based on the Redis URL.
// If redisURL is empty or the connection fails, returns a NullBus.
func NewBus(redisURL string, logger *log.Logger) Bus {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if redisURL == "" {
		return NewNullBus(logger)
	}

	redisBus, err := NewRedisBus(redisURL, logger)
	if err != nil {
		logger.Printf("Redis unavailable (%v), falling back to null bus", err)
		return NewNullBus(logger)
	}

	return redisBus
}
