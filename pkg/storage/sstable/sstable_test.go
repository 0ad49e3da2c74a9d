package sstable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexlab/pkg/common"
	"indexlab/pkg/monitor"
	"indexlab/pkg/storage"
)

func TestBuilderWritesRunsAndReaderReadsThemBack(t *testing.T) {
	stats := monitor.NewIOStat()
	disk := storage.NewDisk(nil, stats)
	path := filepath.Join(t.TempDir(), "x.bpt.dat")

	f, err := disk.Create(path)
	require.NoError(t, err)
	b := NewBuilder(f, 2, 3)
	for i := 0; i < 7; i++ {
		require.NoError(t, b.Add(int64(i), []byte{byte(i), 'r'}))
	}
	runs, err := b.Finish()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Len(t, runs, 3)
	assert.Equal(t, common.Offset(3), runs[1].First)
	assert.Equal(t, []common.Value{int64(6)}, runs[2].Keys)
	// three runs plus the header
	assert.Equal(t, uint64(4), stats.Snapshot().Writes)

	f, err = disk.Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	tbl, err := Open(f, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), tbl.Count())

	stats.Reset()
	recs, err := tbl.ReadRun(2, 4)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, byte(5), recs[3][0])
	assert.Equal(t, uint64(1), stats.Snapshot().Reads)

	_, err = tbl.Get(7)
	assert.ErrorIs(t, err, common.ErrInvalidPlan)

	_, err = Open(f, 3)
	assert.ErrorIs(t, err, common.ErrCorruptHeader)

	rec, err := tbl.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 'r'}, rec)
}

func TestBuilderRejectsWrongRecordSize(t *testing.T) {
	disk := storage.NewDisk(nil, nil)
	f, err := disk.Create(filepath.Join(t.TempDir(), "y.bpt.dat"))
	require.NoError(t, err)
	defer f.Close()
	err = NewBuilder(f, 4, 2).Add(int64(1), []byte{1})
	assert.ErrorIs(t, err, common.ErrInvalidPlan)
}
