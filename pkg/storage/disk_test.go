package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexlab/pkg/common"
	"indexlab/pkg/monitor"
)

func TestBlockFileCountsEveryAccess(t *testing.T) {
	stats := monitor.NewIOStat()
	d := NewDisk(nil, stats)
	path := filepath.Join(t.TempDir(), "sub", "blocks.bin")

	f, err := d.Open(path, true)
	require.NoError(t, err)
	require.NoError(t, f.WriteBlock(0, []byte("hello")))
	off, err := f.Append([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), off)

	b, err := f.ReadBlock(0, 10)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(b))
	_, err = f.ReadBlock(2, 3)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m := stats.Snapshot()
	assert.Equal(t, uint64(2), m.Writes)
	assert.Equal(t, uint64(10), m.WriteBytes)
	assert.Equal(t, uint64(2), m.Reads)
	assert.Equal(t, uint64(13), m.ReadBytes)
}

func TestShortReadIsIOFailure(t *testing.T) {
	d := NewDisk(nil, nil)
	f, err := d.Open(filepath.Join(t.TempDir(), "short.bin"), true)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.WriteBlock(0, []byte("abc")))

	_, err = f.ReadBlock(0, 8)
	assert.ErrorIs(t, err, common.ErrIOFailure)
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	d := NewDisk(nil, nil)
	_, err := d.Open(filepath.Join(t.TempDir(), "nope.bin"), false)
	assert.ErrorIs(t, err, common.ErrIOFailure)
}

func TestFaultyFSSurfacesIOFailure(t *testing.T) {
	ffs := NewFaultyFS(LocalFS{})
	d := NewDisk(ffs, nil)
	dir := t.TempDir()

	ffs.AddRule("bad.bin", Fault{FailAfterWrites: 1})
	f, err := d.Open(filepath.Join(dir, "bad.bin"), true)
	require.NoError(t, err)
	require.NoError(t, f.WriteBlock(0, []byte("ok")))
	err = f.WriteBlock(2, []byte("boom"))
	assert.ErrorIs(t, err, common.ErrIOFailure)
	assert.ErrorIs(t, err, ErrInjected)
	require.NoError(t, f.Close())

	ffs.AddRule("unreadable.bin", Fault{FailReads: true, FailAfterWrites: -1})
	g, err := d.Open(filepath.Join(dir, "unreadable.bin"), true)
	require.NoError(t, err)
	require.NoError(t, g.WriteBlock(0, []byte("data")))
	_, err = g.ReadBlock(0, 4)
	assert.ErrorIs(t, err, common.ErrIOFailure)

	ffs.AddRule("closing.bin", Fault{FailOnClose: true, FailAfterWrites: -1})
	h, err := d.Open(filepath.Join(dir, "closing.bin"), true)
	require.NoError(t, err)
	var relErr error
	Release(&relErr, g, h)
	assert.ErrorIs(t, relErr, common.ErrIOFailure)
}

func TestHeapAppendReadAndHeader(t *testing.T) {
	d := NewDisk(nil, nil)
	path := filepath.Join(t.TempDir(), "t.dat")

	f, err := d.Open(path, true)
	require.NoError(t, err)
	h, err := OpenHeap(f, "TESTDAT1", 4)
	require.NoError(t, err)
	for _, s := range []string{"aaaa", "bbbb", "cccc"} {
		_, err := h.Append([]byte(s))
		require.NoError(t, err)
	}
	n, err := h.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	rec, err := h.Read(1)
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(rec))
	run, err := h.ReadRun(0, 3)
	require.NoError(t, err)
	assert.Equal(t, "cccc", string(run[2]))
	_, err = h.Append([]byte("toolong"))
	assert.ErrorIs(t, err, common.ErrInvalidPlan)
	require.NoError(t, f.Close())

	f, err = d.Open(path, false)
	require.NoError(t, err)
	_, err = OpenHeap(f, "OTHERTAG", 4)
	assert.ErrorIs(t, err, common.ErrCorruptHeader)
	_, err = OpenHeap(f, "TESTDAT1", 8)
	assert.ErrorIs(t, err, common.ErrCorruptHeader)
	require.NoError(t, f.Close())
}

func TestTombstonesRoundTrip(t *testing.T) {
	d := NewDisk(nil, nil)
	path := filepath.Join(t.TempDir(), "t.tomb")

	f, err := d.Open(path, true)
	require.NoError(t, err)
	ts, err := LoadTombstones(f)
	require.NoError(t, err)
	assert.Equal(t, 0, ts.Len())
	ts.Add(3)
	ts.Add(7)
	require.NoError(t, ts.Save(f))
	require.NoError(t, f.Close())

	f, err = d.Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	ts, err = LoadTombstones(f)
	require.NoError(t, err)
	assert.True(t, ts.Contains(3))
	assert.True(t, ts.Contains(7))
	assert.False(t, ts.Contains(4))
	assert.Equal(t, 2, ts.Len())
}

func TestDiskRemoveIgnoresMissing(t *testing.T) {
	d := NewDisk(nil, nil)
	dir := t.TempDir()
	p := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	assert.True(t, d.Exists(p))
	require.NoError(t, d.Remove(p, filepath.Join(dir, "missing.bin")))
	assert.False(t, d.Exists(p))
}

func TestDirLockExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	a := NewDirLock(dir)
	require.NoError(t, a.TryLock())
	b := NewDirLock(dir)
	assert.Error(t, b.TryLock())
	require.NoError(t, a.Unlock())
	require.NoError(t, b.TryLock())
	require.NoError(t, b.Unlock())
}
