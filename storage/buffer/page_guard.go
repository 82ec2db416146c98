package buffer

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/storage/page"
)

/*
*
页面守卫

三种守卫共享同一约定：守卫持有的资源恰好释放一次，
要么在显式Drop时，要么在作用域结束的defer里，先到者为准。
重复Drop是无害的空操作。

  - BasicPageGuard 只持有pin；
  - ReadPageGuard  持有pin和共享锁；
  - WritePageGuard 持有pin和排他锁。

守卫不可复制，传递时传指针即转移所有权。守卫非空期间，
对应帧的pin计数至少为1，读写守卫还持有相应的页锁。
*/

// BasicPageGuard 只托管pin的页面守卫
type BasicPageGuard struct {
	bpm  *BufferPoolManager
	page *page.Page

	// 通过DataMut触碰过页面后在Drop时随unpin上报
	isDirty bool
}

// PageID 守卫所指页面的页面号，空守卫返回INVALID_PAGE_ID
func (g *BasicPageGuard) PageID() common.PageID {
	if g.page == nil {
		return common.INVALID_PAGE_ID
	}
	return g.page.PageID()
}

// IsEmpty 守卫是否已释放
func (g *BasicPageGuard) IsEmpty() bool {
	return g == nil || g.page == nil
}

// Data 页面内容的只读视图
func (g *BasicPageGuard) Data() []byte {
	return g.page.Data()
}

// DataMut 页面内容的可写视图，调用即预置脏标记
func (g *BasicPageGuard) DataMut() []byte {
	g.isDirty = true
	return g.page.Data()
}

// Drop 归还pin，之后守卫为空
func (g *BasicPageGuard) Drop() {
	if g == nil || g.page == nil {
		return
	}
	g.bpm.UnpinPage(g.page.PageID(), g.isDirty, common.ACCESS_TYPE_UNKNOWN)
	g.page = nil
	g.isDirty = false
}

// upgradeRead 在缓冲池工厂内部把basic守卫升级为读守卫
// 升级后原守卫为空，pin的所有权随之转移
func (g *BasicPageGuard) upgradeRead() *ReadPageGuard {
	g.page.RLatch()
	rg := &ReadPageGuard{guard: BasicPageGuard{bpm: g.bpm, page: g.page, isDirty: g.isDirty}}
	g.page = nil
	g.isDirty = false
	return rg
}

// upgradeWrite 在缓冲池工厂内部把basic守卫升级为写守卫
func (g *BasicPageGuard) upgradeWrite() *WritePageGuard {
	g.page.WLatch()
	wg := &WritePageGuard{guard: BasicPageGuard{bpm: g.bpm, page: g.page, isDirty: g.isDirty}}
	g.page = nil
	g.isDirty = false
	return wg
}

// ReadPageGuard 托管pin和共享锁的页面守卫
type ReadPageGuard struct {
	guard BasicPageGuard
}

func (g *ReadPageGuard) PageID() common.PageID {
	return g.guard.PageID()
}

func (g *ReadPageGuard) IsEmpty() bool {
	return g == nil || g.guard.IsEmpty()
}

// Data 页面内容的只读视图
func (g *ReadPageGuard) Data() []byte {
	return g.guard.Data()
}

// Drop 先放共享锁再归还pin
func (g *ReadPageGuard) Drop() {
	if g == nil || g.guard.page == nil {
		return
	}
	g.guard.page.RUnlatch()
	g.guard.Drop()
}

// WritePageGuard 托管pin和排他锁的页面守卫
type WritePageGuard struct {
	guard BasicPageGuard
}

func (g *WritePageGuard) PageID() common.PageID {
	return g.guard.PageID()
}

func (g *WritePageGuard) IsEmpty() bool {
	return g == nil || g.guard.IsEmpty()
}

// Data 页面内容的只读视图
func (g *WritePageGuard) Data() []byte {
	return g.guard.Data()
}

// DataMut 页面内容的可写视图，调用即预置脏标记
func (g *WritePageGuard) DataMut() []byte {
	return g.guard.DataMut()
}

// Drop 先放排他锁再归还pin
func (g *WritePageGuard) Drop() {
	if g == nil || g.guard.page == nil {
		return
	}
	g.guard.page.WUnlatch()
	g.guard.Drop()
}

// FetchPageBasic 取页并返回basic守卫，取页失败时返回nil
func (m *BufferPoolManager) FetchPageBasic(pageID common.PageID, accessType common.AccessType) *BasicPageGuard {
	pg := m.FetchPage(pageID, accessType)
	if pg == nil {
		return nil
	}
	return &BasicPageGuard{bpm: m, page: pg}
}

// FetchPageRead 取页、加共享锁并返回读守卫，取页失败时返回nil
// 页锁在缓冲池互斥锁之外获取，可能阻塞到写者释放为止
func (m *BufferPoolManager) FetchPageRead(pageID common.PageID, accessType common.AccessType) *ReadPageGuard {
	g := m.FetchPageBasic(pageID, accessType)
	if g == nil {
		return nil
	}
	return g.upgradeRead()
}

// FetchPageWrite 取页、加排他锁并返回写守卫，取页失败时返回nil
func (m *BufferPoolManager) FetchPageWrite(pageID common.PageID, accessType common.AccessType) *WritePageGuard {
	g := m.FetchPageBasic(pageID, accessType)
	if g == nil {
		return nil
	}
	return g.upgradeWrite()
}

// NewPageGuarded 分配新页并返回basic守卫，分配失败时返回nil
// 新页在被挂进某个父节点之前对其他操作不可见
func (m *BufferPoolManager) NewPageGuarded() *BasicPageGuard {
	pg := m.NewPage()
	if pg == nil {
		return nil
	}
	return &BasicPageGuard{bpm: m, page: pg}
}
