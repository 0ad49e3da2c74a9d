package monitor

import (
	"sync/atomic"
	"time"
)

// IOStat accumulates the physical I/O of one logical operation.
type IOStat struct {
	Reads      uint64
	Writes     uint64
	ReadBytes  uint64
	WriteBytes uint64
	ioNanos    int64
	started    time.Time
	elapsed    time.Duration
}

// Metrics is the snapshot attached to every response.
type Metrics struct {
	Reads       uint64  `json:"reads"`
	Writes      uint64  `json:"writes"`
	ReadBytes   uint64  `json:"read_bytes"`
	WriteBytes  uint64  `json:"write_bytes"`
	TotalTimeMs float64 `json:"total_time_ms"`
	IOTimeMs    float64 `json:"io_time_ms"`
}

func NewIOStat() *IOStat {
	return &IOStat{}
}

func (s *IOStat) RecordRead(n int, d time.Duration) {
	atomic.AddUint64(&s.Reads, 1)
	atomic.AddUint64(&s.ReadBytes, uint64(n))
	atomic.AddInt64(&s.ioNanos, int64(d))
}

func (s *IOStat) RecordWrite(n int, d time.Duration) {
	atomic.AddUint64(&s.Writes, 1)
	atomic.AddUint64(&s.WriteBytes, uint64(n))
	atomic.AddInt64(&s.ioNanos, int64(d))
}

// Reset zeroes the counters and starts the operation clock.
func (s *IOStat) Reset() {
	atomic.StoreUint64(&s.Reads, 0)
	atomic.StoreUint64(&s.Writes, 0)
	atomic.StoreUint64(&s.ReadBytes, 0)
	atomic.StoreUint64(&s.WriteBytes, 0)
	atomic.StoreInt64(&s.ioNanos, 0)
	s.started = time.Now()
	s.elapsed = 0
}

// Stop freezes the operation clock.
func (s *IOStat) Stop() {
	if !s.started.IsZero() {
		s.elapsed = time.Since(s.started)
	}
}

func (s *IOStat) Snapshot() Metrics {
	elapsed := s.elapsed
	if elapsed == 0 && !s.started.IsZero() {
		elapsed = time.Since(s.started)
	}
	return Metrics{
		Reads:       atomic.LoadUint64(&s.Reads),
		Writes:      atomic.LoadUint64(&s.Writes),
		ReadBytes:   atomic.LoadUint64(&s.ReadBytes),
		WriteBytes:  atomic.LoadUint64(&s.WriteBytes),
		TotalTimeMs: float64(elapsed) / float64(time.Millisecond),
		IOTimeMs:    float64(atomic.LoadInt64(&s.ioNanos)) / float64(time.Millisecond),
	}
}

// Add folds another snapshot into m; used by benchmark summaries.
func (m Metrics) Add(o Metrics) Metrics {
	return Metrics{
		Reads:       m.Reads + o.Reads,
		Writes:      m.Writes + o.Writes,
		ReadBytes:   m.ReadBytes + o.ReadBytes,
		WriteBytes:  m.WriteBytes + o.WriteBytes,
		TotalTimeMs: m.TotalTimeMs + o.TotalTimeMs,
		IOTimeMs:    m.IOTimeMs + o.IOTimeMs,
	}
}
