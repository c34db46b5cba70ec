package bus

import (
	"context"
	"log"
)

// NullBus is a no-op implementation of the bus interface for when Redis is disabled
type NullBus struct {
	logger *log.Logger
}

// NewNullBus creates a new null bus instance
func NewNullBus(logger *log.Logger) *NullBus {
	if logger == nil {
		logger = log.New(log.Writer(), "[NullBus] ", log.LstdFlags)
	}

	return &NullBus{
		logger: logger,
	}
}

// Close is a no-op for null bus
func (nb *NullBus) Close() error {
	return nil
}

// PublishItem logs the item but doesn't actually publish it
func (nb *NullBus) PublishItem(ctx context.Context, itemMsg ItemMessage) error {
	nb.logger.Printf("Would publish item %s (Redis disabled)", itemMsg.ItemID)
	return nil
}

// PublishAlert logs the alert but doesn't actually publish it
func (nb *NullBus) PublishAlert(ctx context.Context, alertMsg AlertMessage) error {
	nb.logger.Printf("Would publish alert %s for organization %s (Redis disabled)",
		alertMsg.AlertID, alertMsg.OrganizationID)
	return nil
}

// GetStats returns empty stats for null bus
func (nb *NullBus) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{
		"type":   "null",
		"status": "disabled",
	}, nil
}

// CleanupOldMessages is a no-op for null bus
func (nb *NullBus) CleanupOldMessages(ctx context.Context, maxLen int64) error {
	return nil
}

// HealthCheck always returns nil for null bus
func (nb *NullBus) HealthCheck(ctx context.Context) error {
	return nil
}
