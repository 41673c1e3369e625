package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// OpStats holds storage-operation statistics for one adapter.
type OpStats struct {
	// Reads is the total number of read operations executed.
	Reads atomic.Int64
	// Writes is the total number of write operations executed.
	Writes atomic.Int64
	// TotalDuration is the total time spent in storage operations.
	TotalDuration atomic.Int64 // nanoseconds
	// Slow is the count of operations exceeding the slow threshold.
	Slow atomic.Int64
	// Errors is the count of failed operations.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *OpStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		Reads:         s.Reads.Load(),
		Writes:        s.Writes.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		Slow:          s.Slow.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *OpStats) Reset() {
	s.Reads.Store(0)
	s.Writes.Store(0)
	s.TotalDuration.Store(0)
	s.Slow.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of operation statistics.
type StatsSnapshot struct {
	Reads         int64
	Writes        int64
	TotalDuration time.Duration
	Slow          int64
	Errors        int64
}

// AvgDuration returns the average operation duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	total := s.Reads + s.Writes
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"reads=%d writes=%d duration=%s avg=%s slow=%d errors=%d",
		s.Reads, s.Writes, s.TotalDuration, s.AvgDuration(), s.Slow, s.Errors,
	)
}

// SlowOpHook is called when a storage operation exceeds the slow
// threshold.
type SlowOpHook func(ctx context.Context, entity, op string, duration time.Duration)

// Recorder collects operation statistics and detects slow operations.
// The zero value has no slow-operation detection.
type Recorder struct {
	stats         OpStats
	slowThreshold time.Duration
	slowHook      SlowOpHook
}

// NewRecorder returns a recorder with the given slow threshold. A zero
// threshold disables slow-operation detection. The default hook logs a
// warning through slog; pass a custom hook to override.
func NewRecorder(slowThreshold time.Duration, hook SlowOpHook) *Recorder {
	if hook == nil {
		hook = func(_ context.Context, entity, op string, duration time.Duration) {
			slog.Warn("slow storage operation", "entity", entity, "op", op, "duration", duration)
		}
	}
	return &Recorder{slowThreshold: slowThreshold, slowHook: hook}
}

// Stats returns the underlying OpStats for reading statistics.
func (r *Recorder) Stats() *OpStats {
	return &r.stats
}

// Record notes one completed storage operation.
func (r *Recorder) Record(ctx context.Context, entity, op string, start time.Time, err error, write bool) {
	if r == nil {
		return
	}
	duration := time.Since(start)
	if write {
		r.stats.Writes.Add(1)
	} else {
		r.stats.Reads.Add(1)
	}
	r.stats.TotalDuration.Add(int64(duration))
	if err != nil {
		r.stats.Errors.Add(1)
	}
	if r.slowThreshold > 0 && duration > r.slowThreshold {
		r.stats.Slow.Add(1)
		if r.slowHook != nil {
			r.slowHook(ctx, entity, op, duration)
		}
	}
}
