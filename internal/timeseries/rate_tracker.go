// Package timeseries tracks how fast a counter grows over rolling windows.
//
// The supervisor counts the server's log lines with it, so the dashboard can
// show whether the server is chatty or quiet right now.
//
// Add is lock-free. RecordSample and GetStats share a small ring buffer.
package timeseries

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (5 minutes at 1 sample/sec)
	ringBufferSize = 300

	// DefaultSampleInterval is the sampling period Run uses when given zero.
	DefaultSampleInterval = time.Second

	window1s   = 1 * time.Second
	window30s  = 30 * time.Second
	window60s  = 60 * time.Second
	window300s = 300 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is the counter's value at one point in time.
type sample struct {
	timestamp time.Time
	count     int64
}

// RateTracker keeps a cumulative count and computes its rate of change.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Add(1)           // per log line
//	go tracker.Run(ctx, 0)   // samples every second
//	stats := tracker.GetStats()
type RateTracker struct {
	total atomic.Int64

	samples  []sample
	writeIdx int // next write position once the buffer is full
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats contains rates, in units per second, at a point in time.
type RateStats struct {
	Total int64

	Avg1s   float64
	Avg30s  float64
	Avg60s  float64
	Avg300s float64

	// AvgOverall is the rate since tracking started.
	AvgOverall float64
}

// NewRateTracker creates a new tracker with real clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add increases the count by n. Non-positive values are ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// Total returns the cumulative count.
func (t *RateTracker) Total() int64 {
	return t.total.Load()
}

// RecordSample stores the current count. Call it periodically.
func (t *RateTracker) RecordSample() {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, count: current}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Run records a sample every interval until ctx is done.
func (t *RateTracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RecordSample()
		}
	}
}

// GetStats computes the current rates. Windows longer than the recorded
// history use the oldest sample available.
func (t *RateTracker) GetStats() RateStats {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{Total: current}

	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.AvgOverall = float64(current) / elapsed
	}

	stats.Avg1s = t.avgOverWindow(now, current, window1s)
	stats.Avg30s = t.avgOverWindow(now, current, window30s)
	stats.Avg60s = t.avgOverWindow(now, current, window60s)
	stats.Avg300s = t.avgOverWindow(now, current, window300s)

	return stats
}

// avgOverWindow measures from the sample nearest to, but not after, the
// window start. Caller holds mu.
func (t *RateTracker) avgOverWindow(now time.Time, current int64, window time.Duration) float64 {
	target := now.Add(-window)

	var best *sample
	var bestDiff time.Duration = -1
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if diff := target.Sub(s.timestamp); bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.count) / elapsed
}

// oldestSample returns the oldest sample in the ring buffer. Caller holds mu.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all data and restarts tracking.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.samples = append(t.samples[:0], sample{timestamp: now})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of samples in the ring buffer.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
