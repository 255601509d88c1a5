package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tunelink-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

func TestRunnerExecutesJobPeriodically(t *testing.T) {
	runner := NewRunner(context.Background())

	var runs int32
	runner.Every(10*time.Millisecond, "counter", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	runner.Shutdown()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(3))
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	runner := NewRunner(context.Background())

	var runs int32
	runner.Every(10*time.Millisecond, "panicky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("boom")
		}
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	runner.Shutdown()

	// The panic on the first run must not kill the schedule
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}

func TestDetachRunsJobOnce(t *testing.T) {
	runner := NewRunner(context.Background())

	var runs int32
	runner.Detach("one-off", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	runner.Shutdown()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRunnerShutdownStopsJobs(t *testing.T) {
	runner := NewRunner(context.Background())

	var runs int32
	runner.Every(10*time.Millisecond, "stopped", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	runner.Shutdown()
	before := atomic.LoadInt32(&runs)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, atomic.LoadInt32(&runs))
}
