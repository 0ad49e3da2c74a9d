package core

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indexlab/pkg/common"
	"indexlab/pkg/config"
	"indexlab/pkg/index/exthash"
	"indexlab/pkg/index/isam"
	"indexlab/pkg/storage"
)

var ctx = context.Background()

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func attr(spec string) common.Attribute {
	a, err := common.ParseAttribute(spec)
	if err != nil {
		panic(err)
	}
	return a
}

func schema(table, pk string, specs ...string) *common.Schema {
	sc := &common.Schema{Table: table, PrimaryKey: pk}
	for _, s := range specs {
		sc.Attributes = append(sc.Attributes, attr(s))
	}
	return sc
}

func ok(t *testing.T, r Response) Response {
	t.Helper()
	require.Equal(t, StatusOK, r.Status, "%s: %s", r.ErrorKind, r.Message)
	return r
}

func column(r Response, i int) []any {
	var out []any
	for _, row := range r.Rows {
		out = append(out, row[i])
	}
	return out
}

func TestAVLDuplicatesInInsertionOrder(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("dups", "rid", "rid:INT", "k:INT:AVL", "v:VARCHAR(4)")))

	for _, r := range [][]any{{1, 1, "A"}, {2, 2, "A"}, {3, 1, "B"}} {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "dups", Args: Args{Record: r}}))
	}
	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "dups", Column: "k", Args: Args{Key: 1}}))
	assert.Equal(t, []string{"rid", "k", "v"}, r.Columns)
	assert.Equal(t, []any{"A", "B"}, column(r, 2))
}

func TestBPTreeBulkLoadRange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.BPTreeFanout = 4
	e := openEngine(t, cfg)
	require.NoError(t, e.CreateTable(ctx, schema("nums", "k", "k:INT:BPTREE", "name:VARCHAR(8)")))

	var rows []any
	for _, k := range []int{5, 1, 3, 2, 4} {
		rows = append(rows, []any{k, "n"})
	}
	r := ok(t, e.BulkLoad(ctx, "nums", rows))
	assert.Equal(t, 5, r.RowsAffected)

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpRange, Table: "nums", Column: "k", Args: Args{Low: 2, High: 4}}))
	assert.Equal(t, []any{int64(2), int64(3), int64(4)}, column(r, 0))

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpRange, Table: "nums", Column: "k", Args: Args{Low: 4}}))
	assert.Equal(t, []any{int64(4), int64(5)}, column(r, 0), "nil high bound is open")
}

func TestHashDoublesAndKeepsEveryKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.HashBucketCapacity = 2
	cfg.Index.HashMaxChain = 1
	e := openEngine(t, cfg)
	require.NoError(t, e.CreateTable(ctx, schema("h", "id", "id:INT:HASH", "tag:VARCHAR(4)")))

	for k := 0; k < 9; k++ {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "h", Args: Args{Record: []any{k, "x"}}}))
	}
	st, err := e.Describe("h", "id")
	require.NoError(t, err)
	hs := st.(exthash.Stats)
	assert.GreaterOrEqual(t, hs.Doublings, 1)
	assert.Equal(t, 1<<hs.GlobalDepth, hs.DirectoryLen)

	for k := 0; k < 9; k++ {
		r := ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "h", Column: "id", Args: Args{Key: k}}))
		require.Len(t, r.Rows, 1, "key %d", k)
		assert.Equal(t, int64(k), r.Rows[0][0])
	}
	n, err := e.Check("h", "id")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestRTreeRangeAndKNN(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("places", "id", "id:INT", "loc:ARRAY[FLOAT](2):RTREE")))

	for i, p := range [][]float64{{0, 0}, {1, 1}, {5, 5}} {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "places", Args: Args{Record: []any{i, p}}}))
	}

	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpSpatialRange, Table: "places", Column: "loc",
		Args: Args{Point: []float64{0, 0}, Radius: 2}}))
	assert.Equal(t, []any{[]float64{0, 0}, []float64{1, 1}}, column(r, 1))
	require.Len(t, r.Distances, 2)
	assert.InDelta(t, 1.41421356, r.Distances[1], 1e-6)

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpKNN, Table: "places", Column: "loc",
		Args: Args{Point: []float64{0, 0}, K: 1}}))
	assert.Equal(t, []any{[]float64{0, 0}}, column(r, 1))
	assert.Equal(t, []float64{0}, r.Distances)
}

func TestMetricsResetPerDispatch(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("m", "id", "id:INT:AVL")))
	for k := 0; k < 20; k++ {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "m", Args: Args{Record: []any{k}}}))
	}

	q := Plan{Operation: OpEquality, Table: "m", Column: "id", Args: Args{Key: 7}}
	a := ok(t, e.Dispatch(ctx, q))
	b := ok(t, e.Dispatch(ctx, q))
	assert.Positive(t, a.Metrics.Reads)
	assert.Equal(t, a.Metrics.Reads, b.Metrics.Reads)
	assert.Zero(t, b.Metrics.Writes, "a lookup writes nothing")

	ins := ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "m", Args: Args{Record: []any{100}}}))
	assert.Positive(t, ins.Metrics.Writes)
}

func TestErrorKinds(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("t", "id", "id:INT:HASH", "year:INT:AVL", "note:VARCHAR(8)")))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "t", Args: Args{Record: []any{1, 1999, "a"}}}))

	cases := []struct {
		name string
		plan Plan
		kind string
	}{
		{"missing table", Plan{Operation: OpEquality, Table: "nope", Column: "id", Args: Args{Key: 1}}, "TableNotFound"},
		{"unindexed column", Plan{Operation: OpEquality, Table: "t", Column: "note", Args: Args{Key: "a"}}, "ColumnNotIndexed"},
		{"range on hash", Plan{Operation: OpRange, Table: "t", Column: "id", Args: Args{Low: 0, High: 9}}, "UnsupportedOperation"},
		{"knn on avl", Plan{Operation: OpKNN, Table: "t", Column: "year", Args: Args{Point: []float64{0, 0}, K: 1}}, "UnsupportedOperation"},
		{"duplicate primary", Plan{Operation: OpInsert, Table: "t", Args: Args{Record: []any{1, 2000, "b"}}}, "DuplicateKeyViolation"},
		{"unknown op", Plan{Operation: "UPSERT", Table: "t"}, "InvalidPlan"},
		{"short record", Plan{Operation: OpInsert, Table: "t", Args: Args{Record: []any{2}}}, "InvalidPlan"},
		{"missing key", Plan{Operation: OpEquality, Table: "t", Column: "id"}, "InvalidPlan"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := e.Dispatch(ctx, tc.plan)
			assert.Equal(t, StatusError, r.Status)
			assert.Equal(t, tc.kind, r.ErrorKind, r.Message)
		})
	}

	require.NoError(t, e.CreateTable(ctx, schema("geo", "id", "id:INT", "p:ARRAY[FLOAT](2):RTREE")))
	r := e.Dispatch(ctx, Plan{Operation: OpKNN, Table: "geo", Column: "p", Args: Args{Point: []float64{0, 0}, K: 0}})
	assert.Equal(t, "InvalidSpatialQuery", r.ErrorKind)
	r = e.Dispatch(ctx, Plan{Operation: OpSpatialRange, Table: "geo", Column: "p", Args: Args{Point: []float64{0, 0, 0}, Radius: 1}})
	assert.Equal(t, "InvalidSpatialQuery", r.ErrorKind)
}

func TestPrimaryUniquenessOnNonHashKinds(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("u", "id", "id:INT:BPTREE", "tag:VARCHAR(4):AVL")))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "u", Args: Args{Record: []any{1, "a"}}}))

	r := e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "u", Args: Args{Record: []any{1, "b"}}})
	assert.Equal(t, "DuplicateKeyViolation", r.ErrorKind)

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "u", Column: "tag", Args: Args{Key: "b"}}))
	assert.Empty(t, r.Rows, "a rejected insert leaves secondaries untouched")
}

func movieTable(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.CreateTable(ctx, schema("movies", "id",
		"id:INT:BPTREE", "title:VARCHAR(12):HASH", "year:INT:AVL", "rating:FLOAT:ISAM")))
	for _, r := range [][]any{
		{1, "Alien", 1979, 8.5},
		{2, "Heat", 1995, 8.3},
		{3, "Fargo", 1996, 8.1},
		{4, "Casino", 1995, 8.2},
	} {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "movies", Args: Args{Record: r}}))
	}
}

func TestInsertReachesEveryIndex(t *testing.T) {
	e := openEngine(t, testConfig(t))
	movieTable(t, e)

	for _, q := range []Plan{
		{Operation: OpEquality, Table: "movies", Column: "id", Args: Args{Key: 3}},
		{Operation: OpEquality, Table: "movies", Column: "title", Args: Args{Key: "Fargo"}},
		{Operation: OpRange, Table: "movies", Column: "year", Args: Args{Low: 1996, High: 1996}},
		{Operation: OpRange, Table: "movies", Column: "rating", Args: Args{Low: 8.05, High: 8.15}},
	} {
		r := ok(t, e.Dispatch(ctx, q))
		require.Len(t, r.Rows, 1, q.Column)
		assert.Equal(t, "Fargo", r.Rows[0][1])
	}
}

func TestRemoveCascadesAcrossIndexes(t *testing.T) {
	e := openEngine(t, testConfig(t))
	movieTable(t, e)

	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpRemove, Table: "movies", Column: "year", Args: Args{Key: 1995}}))
	assert.Equal(t, 2, r.RowsAffected)

	for _, q := range []Plan{
		{Operation: OpEquality, Table: "movies", Column: "id", Args: Args{Key: 2}},
		{Operation: OpEquality, Table: "movies", Column: "id", Args: Args{Key: 4}},
		{Operation: OpEquality, Table: "movies", Column: "title", Args: Args{Key: "Heat"}},
		{Operation: OpEquality, Table: "movies", Column: "title", Args: Args{Key: "Casino"}},
		{Operation: OpEquality, Table: "movies", Column: "rating", Args: Args{Key: 8.3}},
		{Operation: OpEquality, Table: "movies", Column: "year", Args: Args{Key: 1995}},
	} {
		r := ok(t, e.Dispatch(ctx, q))
		assert.Empty(t, r.Rows, "%s=%v", q.Column, q.Args.Key)
	}

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpScan, Table: "movies"}))
	assert.Equal(t, []any{int64(1), int64(3)}, column(r, 0))

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpRemove, Table: "movies", Column: "title", Args: Args{Key: "Nope"}}))
	assert.Zero(t, r.RowsAffected)
}

func TestScanLimit(t *testing.T) {
	e := openEngine(t, testConfig(t))
	movieTable(t, e)
	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpScan, Table: "movies", Args: Args{Limit: 2}}))
	assert.Equal(t, []any{int64(1), int64(2)}, column(r, 0))
}

func TestCompactionIsExplicit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.ISAMBlockFactor = 2
	e := openEngine(t, cfg)
	require.NoError(t, e.CreateTable(ctx, schema("iq", "k", "k:INT:ISAM")))

	ok(t, e.BulkLoad(ctx, "iq", []any{[]any{10}, []any{20}, []any{30}, []any{40}}))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "iq", Args: Args{Record: []any{15}}}))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpRemove, Table: "iq", Column: "k", Args: Args{Key: 15}}))

	st, err := e.Describe("iq", "k")
	require.NoError(t, err)
	assert.Equal(t, 1, st.(isam.Stats).OverflowPages, "remove never reorganizes")

	r := ok(t, e.Compact(ctx, "iq", "k"))
	assert.Equal(t, 4, r.RowsAffected)
	st, err = e.Describe("iq", "k")
	require.NoError(t, err)
	assert.Zero(t, st.(isam.Stats).OverflowPages)

	r = e.Compact(ctx, "iq", "nope")
	assert.Equal(t, "ColumnNotIndexed", r.ErrorKind)
}

func TestCompactUnsupportedOnHash(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("h", "id", "id:INT:HASH")))
	r := e.Compact(ctx, "h", "id")
	assert.Equal(t, "UnsupportedOperation", r.ErrorKind)
}

func TestAddIndexFillsFromExistingRows(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("p", "id", "id:INT", "city:VARCHAR(8)")))
	for i, c := range []string{"Lima", "Cusco", "Lima"} {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "p", Args: Args{Record: []any{i, c}}}))
	}
	r := ok(t, e.AddIndex(ctx, "p", "city", common.KindBPTree))
	assert.Equal(t, 3, r.RowsAffected)

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "p", Column: "city", Args: Args{Key: "Lima"}}))
	assert.Len(t, r.Rows, 2)

	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "p", Args: Args{Record: map[string]any{"id": 9, "city": "Lima"}}}))
	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "p", Column: "city", Args: Args{Key: "Lima"}}))
	assert.Len(t, r.Rows, 3)
}

func TestBulkLoadRejectsRepeatedPrimary(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("b", "id", "id:INT:ISAM")))
	r := e.BulkLoad(ctx, "b", []any{[]any{1}, []any{1}})
	assert.Equal(t, "DuplicateKeyViolation", r.ErrorKind)

	ok(t, e.BulkLoad(ctx, "b", []any{[]any{1}, []any{2}}))
	r = e.BulkLoad(ctx, "b", []any{[]any{3}, []any{2}})
	assert.Equal(t, "DuplicateKeyViolation", r.ErrorKind, "loading into a filled table checks existing keys")
}

func TestReopenKeepsTables(t *testing.T) {
	cfg := testConfig(t)
	e, err := Open(cfg)
	require.NoError(t, err)
	movieTable(t, e)

	_, err = Open(cfg)
	assert.Error(t, err, "the data directory is locked")
	require.NoError(t, e.Close())

	e = openEngine(t, cfg)
	assert.Equal(t, []string{"movies"}, e.Tables())
	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "movies", Column: "title", Args: Args{Key: "Alien"}}))
	require.Len(t, r.Rows, 1)
	assert.Equal(t, int64(1979), r.Rows[0][2])
}

func TestDropTable(t *testing.T) {
	cfg := testConfig(t)
	e := openEngine(t, cfg)
	require.NoError(t, e.CreateTable(ctx, schema("places", "id", "id:INT", "loc:ARRAY[FLOAT](2):RTREE")))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "places", Args: Args{Record: []any{1, []float64{1, 2}}}}))

	require.NoError(t, e.DropTable(ctx, "places"))
	assert.Empty(t, e.Tables())
	assert.NoDirExists(t, filepath.Join(cfg.Storage.Path, "rtree", "places"))

	r := e.Dispatch(ctx, Plan{Operation: OpScan, Table: "places"})
	assert.Equal(t, "TableNotFound", r.ErrorKind)
}

func TestIOFailureSurfaces(t *testing.T) {
	faulty := storage.NewFaultyFS(nil)
	e := openEngine(t, testConfig(t), WithFileSystem(faulty))
	require.NoError(t, e.CreateTable(ctx, schema("f", "id", "id:INT:AVL")))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "f", Args: Args{Record: []any{1}}}))

	faulty.AddRule("f.id.avl", storage.Fault{FailReads: true, FailAfterWrites: -1})
	r := e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "f", Column: "id", Args: Args{Key: 1}})
	assert.Equal(t, "IOFailure", r.ErrorKind)

	faulty.Clear()
	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "f", Column: "id", Args: Args{Key: 1}}))
	assert.Len(t, r.Rows, 1)
}

func TestPaddedTextKeysFound(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.HashInitialDepth = 6
	e := openEngine(t, cfg)
	require.NoError(t, e.CreateTable(ctx, schema("w", "id", "id:INT", "name:VARCHAR(8):HASH", "tag:VARCHAR(8):AVL")))

	names := []string{"ab ", "cd ", "ef\x00", "gh  "}
	for i, n := range names {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "w", Args: Args{Record: []any{i, n, n}}}))
	}
	for i, n := range names {
		for _, key := range []string{n, n[:2]} {
			for _, col := range []string{"name", "tag"} {
				r := ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "w", Column: col, Args: Args{Key: key}}))
				require.Len(t, r.Rows, 1, "%s = %q", col, key)
				assert.Equal(t, int64(i), r.Rows[0][0])
				assert.Equal(t, n[:2], r.Rows[0][1])
			}
		}
	}
	n, err := e.Check("w", "name")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNegativeZeroMatchesZero(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.HashInitialDepth = 6
	e := openEngine(t, cfg)
	require.NoError(t, e.CreateTable(ctx, schema("z", "id", "id:INT", "x:FLOAT:HASH", "y:FLOAT:AVL")))

	negZero := math.Copysign(0, -1)
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "z", Args: Args{Record: []any{1, negZero, negZero}}}))
	ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "z", Args: Args{Record: []any{2, "-0", 0}}}))

	for _, key := range []any{0.0, negZero, "-0.0"} {
		for _, col := range []string{"x", "y"} {
			r := ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "z", Column: col, Args: Args{Key: key}}))
			assert.Len(t, r.Rows, 2, "%s = %v", col, key)
		}
	}
	_, err := e.Check("z", "x")
	require.NoError(t, err)
}

func TestHashSecondaryTakesRepeatedValues(t *testing.T) {
	e := openEngine(t, testConfig(t))
	require.NoError(t, e.CreateTable(ctx, schema("people", "id", "id:INT:BPTREE", "city:VARCHAR(8):HASH")))

	for i := 0; i < 20; i++ {
		ok(t, e.Dispatch(ctx, Plan{Operation: OpInsert, Table: "people", Args: Args{Record: []any{i, "lima"}}}))
	}
	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "people", Column: "city", Args: Args{Key: "lima"}}))
	assert.Len(t, r.Rows, 20)
	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpScan, Table: "people"}))
	assert.Len(t, r.Rows, 20)

	n, err := e.Check("people", "city")
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpRemove, Table: "people", Column: "city", Args: Args{Key: "lima"}}))
	assert.Equal(t, 20, r.RowsAffected)
	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpScan, Table: "people"}))
	assert.Empty(t, r.Rows)
}

// rewriteCounter counts truncating opens per file suffix.
type rewriteCounter struct {
	storage.FileSystem
	mu     sync.Mutex
	counts map[string]int
}

func (c *rewriteCounter) OpenFile(name string, flag int, perm os.FileMode) (storage.File, error) {
	if flag&os.O_TRUNC != 0 {
		c.mu.Lock()
		c.counts[filepath.Base(name)]++
		c.mu.Unlock()
	}
	return c.FileSystem.OpenFile(name, flag, perm)
}

func (c *rewriteCounter) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func TestRemoveRewritesClusteredIndexOnce(t *testing.T) {
	fsys := &rewriteCounter{FileSystem: storage.Default, counts: map[string]int{}}
	e := openEngine(t, testConfig(t), WithFileSystem(fsys))
	require.NoError(t, e.CreateTable(ctx, schema("g", "id", "id:INT:AVL", "grp:INT:BPTREE")))

	var rows []any
	for i := 0; i < 10; i++ {
		rows = append(rows, []any{i, i % 2})
	}
	ok(t, e.BulkLoad(ctx, "g", rows))

	before := fsys.count("g.grp.bpt.dat")
	r := ok(t, e.Dispatch(ctx, Plan{Operation: OpRemove, Table: "g", Column: "grp", Args: Args{Key: 1}}))
	assert.Equal(t, 5, r.RowsAffected)
	assert.Equal(t, 1, fsys.count("g.grp.bpt.dat")-before, "five victims share one key")

	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpRange, Table: "g", Column: "grp"}))
	assert.Equal(t, []any{int64(0), int64(2), int64(4), int64(6), int64(8)}, column(r, 0))
	r = ok(t, e.Dispatch(ctx, Plan{Operation: OpEquality, Table: "g", Column: "id", Args: Args{Key: 3}}))
	assert.Empty(t, r.Rows)
}
