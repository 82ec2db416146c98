package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIteratorEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4, 4)

	it := tree.Begin()
	assert.True(t, it.IsEnd())
	assert.True(t, it.Equals(tree.End()))

	// 终止迭代器上的Next是空操作
	it.Next()
	assert.True(t, it.IsEnd())
}

func TestIteratorSingleLeafWalk(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4, 4)
	for _, v := range []uint64{3, 1, 2} {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	it := tree.Begin()
	for _, want := range []uint64{1, 2, 3} {
		require.False(t, it.IsEnd())
		assert.Equal(t, k8(want), it.Key())
		assert.Equal(t, ridFor(want), it.RID())
		it.Next()
	}
	assert.True(t, it.IsEnd())
}

func TestIteratorCrossesLeaves(t *testing.T) {
	// 多叶树上迭代器沿叶链换页，全序不受页边界影响
	tree, _ := newTestTree(t, 32, 4, 4)
	const n = 40
	for v := uint64(0); v < n; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	it := tree.Begin()
	crossings := 0
	prevPage := it.pageID
	for want := uint64(0); want < n; want++ {
		require.False(t, it.IsEnd())
		assert.Equal(t, k8(want), it.Key())
		if it.pageID != prevPage {
			crossings++
			prevPage = it.pageID
		}
		it.Next()
	}
	assert.True(t, it.IsEnd())
	assert.Greater(t, crossings, 0)
}

func TestIteratorBeginFrom(t *testing.T) {
	tree, _ := newTestTree(t, 16, 4, 4)
	for _, v := range []uint64{10, 20, 30, 40, 50} {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	// 精确命中：从30走到尾
	it := tree.BeginFrom(k8(30))
	for _, want := range []uint64{30, 40, 50} {
		require.False(t, it.IsEnd())
		assert.Equal(t, k8(want), it.Key())
		it.Next()
	}
	assert.True(t, it.IsEnd())

	// 不存在的键得到终止迭代器
	assert.True(t, tree.BeginFrom(k8(35)).IsEnd())
	// 键宽不符同样终止
	assert.True(t, tree.BeginFrom([]byte{1}).IsEnd())
}

func TestIteratorDropReleasesGuard(t *testing.T) {
	// 提前Drop后迭代器进入终止态，持有的pin随守卫归还
	tree, bpm := newTestTree(t, 8, 4, 4)
	for _, v := range []uint64{1, 2, 3} {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	it := tree.Begin()
	require.False(t, it.IsEnd())
	held := it.pageID
	assert.Equal(t, 1, bpm.PinCountOf(held))

	it.Drop()
	assert.True(t, it.IsEnd())
	assert.Equal(t, 0, bpm.PinCountOf(held))

	// Drop后再Next仍是空操作
	it.Next()
	assert.True(t, it.IsEnd())
}

func TestIteratorEquals(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4, 4)
	for _, v := range []uint64{1, 2} {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	a := tree.Begin()
	b := tree.Begin()
	assert.True(t, a.Equals(b))

	b.Next()
	assert.False(t, a.Equals(b))
	a.Next()
	assert.True(t, a.Equals(b))

	a.Next()
	b.Next()
	assert.True(t, a.Equals(b))
	assert.True(t, a.IsEnd())
	assert.True(t, a.Equals(tree.End()))
}
