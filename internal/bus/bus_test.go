package bus

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Bus = (*RedisBus)(nil)
	_ Bus = (*NullBus)(nil)
)

func TestNewBusEmptyURLReturnsNullBus(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	b := NewBus("", logger)
	require.NotNil(t, b)

	_, ok := b.(*NullBus)
	assert.True(t, ok, "expected NullBus for empty Redis URL")
}

func TestNewBusUnreachableRedisFallsBack(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	// Port 1 should refuse connections immediately.
	b := NewBus("redis://127.0.0.1:1", logger)
	require.NotNil(t, b)

	_, ok := b.(*NullBus)
	assert.True(t, ok, "expected NullBus fallback when Redis is unreachable")
}

func TestNullBusOperations(t *testing.T) {
	nb := NewNullBus(log.New(io.Discard, "", 0))
	ctx := context.Background()

	assert.NoError(t, nb.PublishItem(ctx, ItemMessage{ItemID: "item-1"}))
	assert.NoError(t, nb.PublishAlert(ctx, AlertMessage{AlertID: "alert-1"}))
	assert.NoError(t, nb.HealthCheck(ctx))
	assert.NoError(t, nb.CleanupOldMessages(ctx, 100))
	assert.NoError(t, nb.Close())

	stats, err := nb.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "null", stats["type"])
}
