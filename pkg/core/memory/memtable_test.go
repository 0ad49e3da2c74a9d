package memory

import (
	"cmp"
	"testing"

	"github.com/stretchr/testify/assert"

	"indexlab/pkg/common"
)

func intCmp(a, b common.Value) int { return cmp.Compare(a.(int64), b.(int64)) }

func TestSortBufferOrdersAndKeepsDuplicates(t *testing.T) {
	sb := NewSortBuffer(4, intCmp)
	for i, k := range []int64{5, 1, 3, 1, 4} {
		sb.Put(k, []byte{byte('a' + i)})
	}
	assert.Equal(t, 5, sb.Count())
	assert.Equal(t, 5, sb.Size())

	var keys []int64
	var data []byte
	sb.Iterator(func(k common.Value, d []byte) bool {
		keys = append(keys, k.(int64))
		data = append(data, d...)
		return true
	})
	assert.Equal(t, []int64{1, 1, 3, 4, 5}, keys)
	assert.Equal(t, "bdcea", string(data), "equal keys keep arrival order")

	items := sb.Drain()
	assert.Len(t, items, 5)
	assert.Equal(t, 0, sb.Count())
	assert.Equal(t, 0, sb.Size())
}
