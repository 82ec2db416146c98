package index

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer"
	"github.com/zhukovaskychina/xstorage-engine/storage/page"
)

/*
*
Iterator 沿叶链的前向只读迭代器

持有当前叶子的basic守卫和页内槽位号。越过当前叶子的最后一个
槽位时换持下一个叶子的守卫，叶链走到INVALID_PAGE_ID即进入
终止态。迭代器不可重置，也不跟踪并发修改。
*/
type Iterator struct {
	bpm   *buffer.BufferPoolManager
	guard *buffer.BasicPageGuard

	pageID common.PageID
	slot   int
}

// Begin 定位到整棵树最小键所在的位置，空树返回终止迭代器
func (t *BTree) Begin() *Iterator {
	return t.beginAt(nil)
}

// BeginFrom 定位到key所在的位置
// 树中不存在与key精确相等的键时返回终止迭代器
func (t *BTree) BeginFrom(key []byte) *Iterator {
	if len(key) != t.keySize {
		return t.End()
	}
	return t.beginAt(key)
}

// End 终止迭代器
func (t *BTree) End() *Iterator {
	return &Iterator{bpm: t.bpm, pageID: common.INVALID_PAGE_ID}
}

// beginAt key为nil时沿槽位0下降到最左叶，否则按key下降
// 下降用共享锁手递手，到叶后换成basic守卫交给迭代器
func (t *BTree) beginAt(key []byte) *Iterator {
	hg := t.bpm.FetchPageRead(t.headerPageID, common.ACCESS_TYPE_SCAN)
	if hg == nil {
		return t.End()
	}
	root := page.AsBTreeHeaderPage(hg.Data()).RootPageID()
	if root == common.INVALID_PAGE_ID {
		hg.Drop()
		return t.End()
	}

	prev := hg
	cur := root
	for {
		g := t.bpm.FetchPageRead(cur, common.ACCESS_TYPE_SCAN)
		if g == nil {
			prev.Drop()
			return t.End()
		}
		prev.Drop()

		node := page.AsBTreePage(g.Data())
		if node.IsLeafPage() {
			leaf := page.AsLeafPage(g.Data())
			slot := 0
			if key != nil {
				slot = leaf.KeyIndex(key, t.comparator)
				if slot >= leaf.Size() || t.comparator.Compare(leaf.KeyAt(slot), key) != 0 {
					g.Drop()
					return t.End()
				}
			} else if leaf.Size() == 0 {
				g.Drop()
				return t.End()
			}
			g.Drop()

			bg := t.bpm.FetchPageBasic(cur, common.ACCESS_TYPE_SCAN)
			if bg == nil {
				return t.End()
			}
			return &Iterator{bpm: t.bpm, guard: bg, pageID: cur, slot: slot}
		}

		internal := page.AsInternalPage(g.Data())
		if key != nil {
			cur = internal.LookupChild(key, t.comparator)
		} else {
			cur = internal.ChildAt(0)
		}
		prev = g
	}
}

// IsEnd 是否已到终止态
func (it *Iterator) IsEnd() bool {
	return it.pageID == common.INVALID_PAGE_ID
}

// Key 当前槽位的键
func (it *Iterator) Key() []byte {
	return page.AsLeafPage(it.guard.Data()).KeyAt(it.slot)
}

// RID 当前槽位的记录标识
func (it *Iterator) RID() common.RID {
	return page.AsLeafPage(it.guard.Data()).RIDAt(it.slot)
}

// Next 前进一个槽位，越过叶尾时沿叶链换页
func (it *Iterator) Next() {
	if it.IsEnd() {
		return
	}
	it.slot++
	leaf := page.AsLeafPage(it.guard.Data())
	if it.slot < leaf.Size() {
		return
	}

	next := leaf.NextPageID()
	it.guard.Drop()
	it.guard = nil
	it.slot = 0
	if next == common.INVALID_PAGE_ID {
		it.pageID = common.INVALID_PAGE_ID
		return
	}
	bg := it.bpm.FetchPageBasic(next, common.ACCESS_TYPE_SCAN)
	if bg == nil {
		logger.Errorf("buffer pool exhausted while advancing iterator to page %d", next)
		it.pageID = common.INVALID_PAGE_ID
		return
	}
	it.guard = bg
	it.pageID = next
}

// Drop 提前结束迭代，释放当前持有的守卫
func (it *Iterator) Drop() {
	if it.guard != nil {
		it.guard.Drop()
		it.guard = nil
	}
	it.pageID = common.INVALID_PAGE_ID
	it.slot = 0
}

// Equals 两个迭代器相等当且仅当指向同一(页面, 槽位)或都处于终止态
func (it *Iterator) Equals(other *Iterator) bool {
	if it.IsEnd() || other.IsEnd() {
		return it.IsEnd() && other.IsEnd()
	}
	return it.pageID == other.pageID && it.slot == other.slot
}
