package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsImmediatelyAndStops(t *testing.T) {
	var runs int64
	r := RunnerFunc{
		RunnerName: "count",
		Fn: func(ctx context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		},
	}

	s := NewScheduler(time.Hour, []Runner{r}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) == 1
	}, time.Second, 10*time.Millisecond, "first run happens before the first tick")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestSchedulerCountsErrors(t *testing.T) {
	boom := RunnerFunc{
		RunnerName: "boom",
		Fn:         func(ctx context.Context) error { return errors.New("stage broke") },
	}
	ok := RunnerFunc{
		RunnerName: "ok",
		Fn:         func(ctx context.Context) error { return nil },
	}

	s := NewScheduler(time.Hour, []Runner{boom, ok}, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	assert.Eventually(t, func() bool {
		return s.Stats().Runs == 2
	}, time.Second, 10*time.Millisecond)
	cancel()

	stats := s.Stats()
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, "stage broke", stats.LastError)
}
