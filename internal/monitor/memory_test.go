package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemorySampler_Sample(t *testing.T) {
	sampler := NewMemorySampler()

	stats := sampler.Stats()

	assert.False(t, stats.SampledAt.IsZero())
	assert.Greater(t, stats.SysMB, 0.0)
	assert.GreaterOrEqual(t, stats.AllocMB, 0.0)
	assert.Positive(t, stats.GoroutineCount)

	again := sampler.Stats()
	assert.Equal(t, stats.SampledAt, again.SampledAt)
}

func TestMemorySampler_StartStop(t *testing.T) {
	sampler := NewMemorySampler()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler.Start(ctx, 5*time.Millisecond)
	sampler.Start(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return !sampler.Stats().SampledAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	sampler.Stop()
	sampler.Stop()

	// restartable after Stop
	sampler.Start(ctx, 5*time.Millisecond)
	sampler.Stop()
}

func TestMemoryStats_String(t *testing.T) {
	stats := MemoryStats{AllocMB: 12.34, SysMB: 40, GoroutineCount: 7, NumGC: 3}

	assert.Equal(t, "alloc 12.3 MB, sys 40.0 MB, 7 goroutines, 3 GC runs", stats.String())
}
