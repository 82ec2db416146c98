package index

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer"
	"github.com/zhukovaskychina/xstorage-engine/storage/disk"
	"github.com/zhukovaskychina/xstorage-engine/storage/page"
)

func k8(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}

func ridFor(v uint64) common.RID {
	return common.NewRID(common.PageID(v), common.SlotNum(v%16))
}

func newTestTree(t *testing.T, poolSize, leafMax, internalMax int) (*BTree, *buffer.BufferPoolManager) {
	t.Helper()
	bpm := buffer.NewBufferPoolManager(poolSize, 2, disk.NewMemoryDiskManager())
	tree, err := NewBTree(bpm, common.BytesComparator{}, 8, leafMax, internalMax, common.INVALID_PAGE_ID)
	require.NoError(t, err)
	return tree, bpm
}

func TestBTreeNewValidation(t *testing.T) {
	bpm := buffer.NewBufferPoolManager(4, 2, disk.NewMemoryDiskManager())

	_, err := NewBTree(bpm, common.BytesComparator{}, 7, 4, 4, common.INVALID_PAGE_ID)
	assert.True(t, errors.IsNotValid(err))

	_, err = NewBTree(bpm, common.BytesComparator{}, 8, 1, 4, common.INVALID_PAGE_ID)
	assert.True(t, errors.IsNotValid(err))

	_, err = NewBTree(bpm, common.BytesComparator{}, 8, 4, 2, common.INVALID_PAGE_ID)
	assert.True(t, errors.IsNotValid(err))

	// 超出页面容量的maxSize被收缩而不是报错
	tree, err := NewBTree(bpm, common.BytesComparator{}, 8, 1<<20, 1<<20, common.INVALID_PAGE_ID)
	require.NoError(t, err)
	assert.True(t, tree.IsEmpty())
}

func TestBTreeEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4, 4)

	assert.True(t, tree.IsEmpty())
	assert.Equal(t, common.INVALID_PAGE_ID, tree.GetRootPageID())

	var result []common.RID
	assert.False(t, tree.GetValue(k8(1), &result))
	assert.Empty(t, result)

	// 空树删除是无害的空操作
	tree.Remove(k8(1))
	assert.True(t, tree.IsEmpty())
}

func TestBTreeSingleLeaf(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4, 4)

	require.True(t, tree.Insert(k8(2), ridFor(2)))
	require.True(t, tree.Insert(k8(1), ridFor(1)))
	assert.False(t, tree.IsEmpty())

	// 重复键被拒绝
	assert.False(t, tree.Insert(k8(2), ridFor(99)))

	// 键宽不符直接拒绝
	assert.False(t, tree.Insert([]byte{1, 2, 3}, ridFor(3)))

	var result []common.RID
	require.True(t, tree.GetValue(k8(1), &result))
	require.True(t, tree.GetValue(k8(2), &result))
	assert.Equal(t, []common.RID{ridFor(1), ridFor(2)}, result)
	assert.False(t, tree.GetValue(k8(3), &result))
}

func TestBTreeLeafSplitRightLean(t *testing.T) {
	// leafMax=4：第5个键触发分裂。触发键落在右半侧时，
	// 左叶保留前2个条目，右叶得到其余3个，右叶首键升为分隔键
	tree, bpm := newTestTree(t, 16, 4, 4)
	for v := uint64(1); v <= 5; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	rootID := tree.GetRootPageID()
	rg := bpm.FetchPageRead(rootID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, rg)
	root := page.AsInternalPage(rg.Data())
	require.False(t, root.IsLeafPage())
	require.Equal(t, 2, root.Size())
	assert.Equal(t, k8(3), root.KeyAt(1))
	leftID, rightID := root.ChildAt(0), root.ChildAt(1)
	rg.Drop()

	lg := bpm.FetchPageRead(leftID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, lg)
	left := page.AsLeafPage(lg.Data())
	assert.Equal(t, 2, left.Size())
	assert.Equal(t, k8(1), left.KeyAt(0))
	assert.Equal(t, k8(2), left.KeyAt(1))
	assert.Equal(t, rightID, left.NextPageID())
	lg.Drop()

	rg2 := bpm.FetchPageRead(rightID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, rg2)
	right := page.AsLeafPage(rg2.Data())
	assert.Equal(t, 3, right.Size())
	assert.Equal(t, k8(3), right.KeyAt(0))
	assert.Equal(t, k8(5), right.KeyAt(2))
	assert.Equal(t, common.INVALID_PAGE_ID, right.NextPageID())
	rg2.Drop()
}

func TestBTreeLeafSplitLeftLean(t *testing.T) {
	// 触发键落在左半侧时左叶先把尾条目让给右叶，两侧都不低于最小条目数
	tree, bpm := newTestTree(t, 16, 4, 4)
	for _, v := range []uint64{2, 3, 4, 5} {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}
	require.True(t, tree.Insert(k8(1), ridFor(1)))

	rootID := tree.GetRootPageID()
	rg := bpm.FetchPageRead(rootID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, rg)
	root := page.AsInternalPage(rg.Data())
	require.Equal(t, 2, root.Size())
	assert.Equal(t, k8(3), root.KeyAt(1))
	leftID := root.ChildAt(0)
	rg.Drop()

	lg := bpm.FetchPageRead(leftID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, lg)
	left := page.AsLeafPage(lg.Data())
	assert.Equal(t, 2, left.Size())
	assert.Equal(t, k8(1), left.KeyAt(0))
	assert.Equal(t, k8(2), left.KeyAt(1))
	lg.Drop()

	var result []common.RID
	for v := uint64(1); v <= 5; v++ {
		require.True(t, tree.GetValue(k8(v), &result), "key %d", v)
	}
}

func TestBTreeInternalSplitGrowsDepth(t *testing.T) {
	// 小扇出下顺序插入迫使内部节点分裂、树长高，
	// 所有键仍可经由新根查到
	tree, _ := newTestTree(t, 32, 2, 3)
	const n = 64
	for v := uint64(0); v < n; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	var result []common.RID
	for v := uint64(0); v < n; v++ {
		result = result[:0]
		require.True(t, tree.GetValue(k8(v), &result), "key %d", v)
		assert.Equal(t, ridFor(v), result[0])
	}
}

func TestBTreeRemoveRedistribute(t *testing.T) {
	// leafMax=4：[1,2 | 3,4,5]，删除1后左叶降到下界之下，
	// 右兄弟出借首条目，分隔键更新为4
	tree, bpm := newTestTree(t, 16, 4, 4)
	for v := uint64(1); v <= 5; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}
	tree.Remove(k8(1))

	rootID := tree.GetRootPageID()
	rg := bpm.FetchPageRead(rootID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, rg)
	root := page.AsInternalPage(rg.Data())
	require.Equal(t, 2, root.Size())
	assert.Equal(t, k8(4), root.KeyAt(1))
	leftID, rightID := root.ChildAt(0), root.ChildAt(1)
	rg.Drop()

	lg := bpm.FetchPageRead(leftID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, lg)
	left := page.AsLeafPage(lg.Data())
	assert.Equal(t, 2, left.Size())
	assert.Equal(t, k8(2), left.KeyAt(0))
	assert.Equal(t, k8(3), left.KeyAt(1))
	lg.Drop()

	rg2 := bpm.FetchPageRead(rightID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, rg2)
	right := page.AsLeafPage(rg2.Data())
	assert.Equal(t, 2, right.Size())
	assert.Equal(t, k8(4), right.KeyAt(0))
	rg2.Drop()
}

func TestBTreeRemoveMergeCollapsesRoot(t *testing.T) {
	// [1,2 | 3,4]两叶各处下界，再删一个键只能合并，
	// 内部根只剩一个孩子后让位，树重新变回单叶
	tree, bpm := newTestTree(t, 16, 4, 4)
	for v := uint64(1); v <= 5; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}
	tree.Remove(k8(5))
	tree.Remove(k8(4))

	rootID := tree.GetRootPageID()
	rg := bpm.FetchPageRead(rootID, common.ACCESS_TYPE_LOOKUP)
	require.NotNil(t, rg)
	root := page.AsLeafPage(rg.Data())
	require.True(t, root.IsLeafPage())
	assert.Equal(t, 3, root.Size())
	assert.Equal(t, common.INVALID_PAGE_ID, root.NextPageID())
	rg.Drop()

	var result []common.RID
	for v := uint64(1); v <= 3; v++ {
		require.True(t, tree.GetValue(k8(v), &result), "key %d", v)
	}
	assert.False(t, tree.GetValue(k8(4), &result))
}

func TestBTreeRemoveAbsentKey(t *testing.T) {
	tree, _ := newTestTree(t, 8, 4, 4)
	require.True(t, tree.Insert(k8(1), ridFor(1)))

	// 删除不存在的键不改变树
	tree.Remove(k8(7))
	tree.Remove(k8(7))

	var result []common.RID
	require.True(t, tree.GetValue(k8(1), &result))
}

func TestBTreeInsertRemoveRoundTrip(t *testing.T) {
	// 乱序插入再全量删除，结束后树为空且缓冲池里只剩头页
	tree, bpm := newTestTree(t, 64, 4, 4)

	const n = 200
	keys := rand.New(rand.NewSource(7)).Perm(n)
	for _, v := range keys {
		require.True(t, tree.Insert(k8(uint64(v)), ridFor(uint64(v))))
	}

	var result []common.RID
	for v := uint64(0); v < n; v++ {
		result = result[:0]
		require.True(t, tree.GetValue(k8(v), &result), "key %d", v)
		assert.Equal(t, ridFor(v), result[0])
	}

	for _, v := range keys {
		tree.Remove(k8(uint64(v)))
	}
	assert.True(t, tree.IsEmpty())
	assert.Equal(t, 1, bpm.ResidentPages())
}

func TestBTreeOrderedScanAfterShuffledInsert(t *testing.T) {
	tree, _ := newTestTree(t, 64, 4, 4)

	const n = 300
	for _, v := range rand.New(rand.NewSource(42)).Perm(n) {
		require.True(t, tree.Insert(k8(uint64(v)), ridFor(uint64(v))))
	}

	it := tree.Begin()
	for want := uint64(0); want < n; want++ {
		require.False(t, it.IsEnd(), "iterator ended early at %d", want)
		assert.Equal(t, k8(want), it.Key())
		assert.Equal(t, ridFor(want), it.RID())
		it.Next()
	}
	assert.True(t, it.IsEnd())
}

func TestBTreeConcurrentReaders(t *testing.T) {
	// 读者之间只加共享锁，可以并发下降
	tree, _ := newTestTree(t, 64, 4, 4)
	const n = 100
	for v := uint64(0); v < n; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				v := uint64(rng.Intn(n))
				var result []common.RID
				if assert.True(t, tree.GetValue(k8(v), &result), "key %d", v) {
					assert.Equal(t, ridFor(v), result[0])
				}
			}
		}(int64(g))
	}
	wg.Wait()
}

func TestBTreeConcurrentInserts(t *testing.T) {
	// 多个写者插入互不相交的键区间，螃蟹锁保证结构修改互不串扰
	tree, _ := newTestTree(t, 64, 4, 4)
	const (
		writers = 4
		perW    = 100
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < perW; i++ {
				tree.Insert(k8(base+i), ridFor(base+i))
			}
		}(uint64(w) * perW)
	}
	wg.Wait()

	var result []common.RID
	for v := uint64(0); v < writers*perW; v++ {
		result = result[:0]
		require.True(t, tree.GetValue(k8(v), &result), "key %d", v)
		assert.Equal(t, ridFor(v), result[0])
	}

	// 全序扫描确认叶链完好
	it := tree.Begin()
	count := 0
	for !it.IsEnd() {
		count++
		it.Next()
	}
	assert.Equal(t, writers*perW, count)
}

func TestBTreeConcurrentMixed(t *testing.T) {
	// 写者删除偶数键、读者同时点查，结束后偶数键全部消失
	tree, _ := newTestTree(t, 64, 4, 4)
	const n = 200
	for v := uint64(0); v < n; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := uint64(0); v < n; v += 2 {
			tree.Remove(k8(v))
		}
	}()
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				v := uint64(rng.Intn(n))
				var result []common.RID
				tree.GetValue(k8(v), &result)
			}
		}(int64(g))
	}
	wg.Wait()

	var result []common.RID
	for v := uint64(0); v < n; v++ {
		result = result[:0]
		if v%2 == 0 {
			assert.False(t, tree.GetValue(k8(v), &result), "key %d", v)
		} else {
			assert.True(t, tree.GetValue(k8(v), &result), "key %d", v)
		}
	}
}

func TestBTreeReopenFromHeader(t *testing.T) {
	// 刷盘后用同一个头页号重新打开，既存的树原样可用
	dm := disk.NewMemoryDiskManager()
	bpm := buffer.NewBufferPoolManager(16, 2, dm)
	tree, err := NewBTree(bpm, common.BytesComparator{}, 8, 4, 4, common.INVALID_PAGE_ID)
	require.NoError(t, err)
	for v := uint64(1); v <= 10; v++ {
		require.True(t, tree.Insert(k8(v), ridFor(v)))
	}
	headerID := tree.HeaderPageID()
	bpm.FlushAllPages()

	bpm2 := buffer.NewBufferPoolManager(16, 2, dm)
	reopened, err := NewBTree(bpm2, common.BytesComparator{}, 8, 4, 4, headerID)
	require.NoError(t, err)

	var result []common.RID
	for v := uint64(1); v <= 10; v++ {
		result = result[:0]
		require.True(t, reopened.GetValue(k8(v), &result), "key %d", v)
		assert.Equal(t, ridFor(v), result[0])
	}
}
