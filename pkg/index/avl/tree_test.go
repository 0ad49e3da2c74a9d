package avl

import (
	"encoding/binary"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexlab/pkg/common"
	"indexlab/pkg/monitor"
	"indexlab/pkg/storage"
)

const recSize = 12

func newTree(t *testing.T) (*Tree, *monitor.IOStat) {
	t.Helper()
	stats := monitor.NewIOStat()
	key, err := common.NewKeyCodec(common.Attribute{Name: "id", Type: common.TypeInt})
	require.NoError(t, err)
	tr := New(storage.NewDisk(nil, stats), filepath.Join(t.TempDir(), "t.id"), key, recSize)
	require.NoError(t, tr.Create())
	return tr, stats
}

// rec packs a key and a 4-byte tag into a record.
func rec(key int64, tag string) []byte {
	b := make([]byte, recSize)
	binary.LittleEndian.PutUint64(b, uint64(key))
	copy(b[8:], tag)
	return b
}

func tags(t *testing.T, tr *Tree, entries []common.Entry) []string {
	t.Helper()
	var out []string
	for _, e := range entries {
		b, err := tr.Fetch(e.Offset)
		require.NoError(t, err)
		out = append(out, string(b[8:9]))
	}
	return out
}

func TestDuplicatesReturnedInInsertionOrder(t *testing.T) {
	tr, _ := newTree(t)
	for _, r := range []struct {
		k int64
		v string
	}{{1, "A"}, {2, "A"}, {1, "B"}} {
		_, err := tr.Insert(r.k, rec(r.k, r.v))
		require.NoError(t, err)
	}

	got, err := tr.Search(int64(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, tags(t, tr, got))

	got, err = tr.Search(int64(9))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBalancedAfterEveryInsert(t *testing.T) {
	tr, _ := newTree(t)
	rng := rand.New(rand.NewSource(7))
	want := map[int64]int{}
	for i := 0; i < 200; i++ {
		k := int64(rng.Intn(60))
		want[k]++
		_, err := tr.Insert(k, rec(k, "x"))
		require.NoError(t, err)
		n, err := tr.Check()
		require.NoError(t, err, "after inserting %d", k)
		require.Equal(t, i+1, n)
	}

	for k, n := range want {
		got, err := tr.Search(k)
		require.NoError(t, err)
		assert.Len(t, got, n, "key %d", k)
	}

	h, err := tr.Height()
	require.NoError(t, err)
	assert.LessOrEqual(t, h, 11)
}

func TestSequentialInsertsStayBalanced(t *testing.T) {
	tr, _ := newTree(t)
	for k := int64(0); k < 64; k++ {
		_, err := tr.Insert(k, rec(k, "s"))
		require.NoError(t, err)
	}
	_, err := tr.Check()
	require.NoError(t, err)
	h, err := tr.Height()
	require.NoError(t, err)
	assert.Equal(t, 7, h)
}

func TestRangeInOrder(t *testing.T) {
	tr, _ := newTree(t)
	keys := []int64{50, 20, 80, 10, 30, 70, 90, 30}
	for _, k := range keys {
		_, err := tr.Insert(k, rec(k, "r"))
		require.NoError(t, err)
	}
	got, err := tr.Range(int64(20), int64(70))
	require.NoError(t, err)
	var ks []int64
	for _, e := range got {
		b, err := tr.Fetch(e.Offset)
		require.NoError(t, err)
		ks = append(ks, int64(binary.LittleEndian.Uint64(b)))
	}
	assert.Equal(t, []int64{20, 30, 30, 50, 70}, ks)

	var all []int64
	require.NoError(t, tr.Scan(func(e common.Entry) bool {
		b, err := tr.Fetch(e.Offset)
		require.NoError(t, err)
		all = append(all, int64(binary.LittleEndian.Uint64(b)))
		return true
	}))
	assert.True(t, sort.SliceIsSorted(all, func(i, j int) bool { return all[i] < all[j] }))
	assert.Len(t, all, len(keys))
}

func TestRemoveTombstonesUntilCompact(t *testing.T) {
	tr, _ := newTree(t)
	for i, k := range []int64{5, 3, 5, 8} {
		_, err := tr.Insert(k, rec(k, string(rune('a'+i))))
		require.NoError(t, err)
	}

	n, err := tr.Remove(int64(5), func(r []byte) bool { return r[8] == 'c' })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := tr.Search(int64(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tags(t, tr, got))

	// the node is still physically present: removal never compacts on its own
	nodes, err := tr.Check()
	require.NoError(t, err)
	assert.Equal(t, 4, nodes)

	live, err := tr.Compact()
	require.NoError(t, err)
	assert.Equal(t, 3, live)
	nodes, err = tr.Check()
	require.NoError(t, err)
	assert.Equal(t, 3, nodes)

	got, err = tr.Search(int64(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tags(t, tr, got))

	_, err = tr.Insert(int64(5), rec(5, "z"))
	require.NoError(t, err)
	got, err = tr.Search(int64(5))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, tags(t, tr, got))
}

func TestSearchCostIsLogarithmic(t *testing.T) {
	tr, stats := newTree(t)
	for k := int64(0); k < 127; k++ {
		_, err := tr.Insert(k, rec(k, "c"))
		require.NoError(t, err)
	}
	stats.Reset()
	got, err := tr.Search(int64(100))
	require.NoError(t, err)
	require.Len(t, got, 1)
	m := stats.Snapshot()
	// two headers plus a root-to-leaf path and the subtrees under the match
	assert.LessOrEqual(t, m.Reads, uint64(2+3*7))
	assert.Zero(t, m.Writes)
}

func TestCorruptIndexHeader(t *testing.T) {
	tr, _ := newTree(t)
	require.NoError(t, os.WriteFile(tr.indexPath, []byte("NOTANAVLINDEXHEADER_________"), 0o644))
	_, err := tr.Search(int64(1))
	assert.ErrorIs(t, err, common.ErrCorruptHeader)
}

func TestIOFailureSurfaces(t *testing.T) {
	ffs := storage.NewFaultyFS(nil)
	key, err := common.NewKeyCodec(common.Attribute{Name: "id", Type: common.TypeInt})
	require.NoError(t, err)
	tr := New(storage.NewDisk(ffs, nil), filepath.Join(t.TempDir(), "f.id"), key, recSize)
	require.NoError(t, tr.Create())

	ffs.AddRule(".avl.idx", storage.Fault{FailAfterWrites: 0})
	_, err = tr.Insert(int64(1), rec(1, "x"))
	assert.ErrorIs(t, err, common.ErrIOFailure)
}
