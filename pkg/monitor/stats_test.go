package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIOStatResetAndSnapshot(t *testing.T) {
	s := NewIOStat()
	s.Reset()
	s.RecordRead(128, time.Millisecond)
	s.RecordRead(64, time.Millisecond)
	s.RecordWrite(32, 2*time.Millisecond)
	s.Stop()

	m := s.Snapshot()
	assert.Equal(t, uint64(2), m.Reads)
	assert.Equal(t, uint64(192), m.ReadBytes)
	assert.Equal(t, uint64(1), m.Writes)
	assert.Equal(t, uint64(32), m.WriteBytes)
	assert.InDelta(t, 4.0, m.IOTimeMs, 1e-9)
	assert.GreaterOrEqual(t, m.TotalTimeMs, 0.0)

	s.Reset()
	m = s.Snapshot()
	assert.Zero(t, m.Reads)
	assert.Zero(t, m.Writes)
	assert.Zero(t, m.IOTimeMs)
}

func TestMetricsAdd(t *testing.T) {
	a := Metrics{Reads: 1, Writes: 2, ReadBytes: 3, WriteBytes: 4, TotalTimeMs: 5}
	b := a.Add(a)
	assert.Equal(t, Metrics{Reads: 2, Writes: 4, ReadBytes: 6, WriteBytes: 8, TotalTimeMs: 10}, b)
}
