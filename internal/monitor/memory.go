package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kyleking/sqlchat/internal/logging"
)

// MemorySampler periodically records process memory while the API serves.
// Loaded workspaces live in process memory, so this is the number to watch
// after large uploads.
type MemorySampler struct {
	mu      sync.RWMutex
	stats   MemoryStats
	stop    chan struct{}
	started bool
}

// MemoryStats is one sample
type MemoryStats struct {
	AllocMB        float64   `json:"alloc_mb"`
	TotalAllocMB   float64   `json:"total_alloc_mb"`
	SysMB          float64   `json:"sys_mb"`
	NumGC          uint32    `json:"num_gc"`
	StackInUseMB   float64   `json:"stack_in_use_mb"`
	GoroutineCount int       `json:"goroutine_count"`
	SampledAt      time.Time `json:"sampled_at"`
}

// NewMemorySampler creates a stopped sampler
func NewMemorySampler() *MemorySampler {
	return &MemorySampler{stop: make(chan struct{})}
}

// Start samples every interval until ctx ends or Stop is called
func (m *MemorySampler) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}

	m.started = true
	m.stop = make(chan struct{})

	go m.loop(ctx, interval, m.stop)
}

// Stop ends sampling
func (m *MemorySampler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	close(m.stop)
	m.started = false
}

// Stats returns the latest sample, taking one if none exists yet
func (m *MemorySampler) Stats() MemoryStats {
	m.mu.RLock()
	stats := m.stats
	m.mu.RUnlock()

	if stats.SampledAt.IsZero() {
		return m.Sample()
	}

	return stats
}

// Sample reads the runtime counters now and stores the result
func (m *MemorySampler) Sample() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{
		AllocMB:        toMB(ms.Alloc),
		TotalAllocMB:   toMB(ms.TotalAlloc),
		SysMB:          toMB(ms.Sys),
		NumGC:          ms.NumGC,
		StackInUseMB:   toMB(ms.StackInuse),
		GoroutineCount: runtime.NumGoroutine(),
		SampledAt:      time.Now(),
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	return stats
}

// String renders the sample for terminals
func (s MemoryStats) String() string {
	return fmt.Sprintf("alloc %.1f MB, sys %.1f MB, %d goroutines, %d GC runs",
		s.AllocMB, s.SysMB, s.GoroutineCount, s.NumGC)
}

func (m *MemorySampler) loop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := m.Sample()
			logging.WithFields(map[string]interface{}{
				"alloc_mb":   fmt.Sprintf("%.1f", stats.AllocMB),
				"sys_mb":     fmt.Sprintf("%.1f", stats.SysMB),
				"goroutines": stats.GoroutineCount,
			}).Debug("Memory sample")
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
