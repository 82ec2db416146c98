package buffer

import (
	"sync"

	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/disk"
	"github.com/zhukovaskychina/xstorage-engine/storage/page"
)

/*
*
BufferPoolManager 缓冲池管理器

把逻辑页面号映射到固定数量的内存帧上，负责pin计数、按需读盘、
脏页回写和帧的淘汰。淘汰策略由LRU-K置换器决定，缓冲池本身
不感知上层页面的语义；上层索引也不感知置换策略，两者只通过
页面守卫交互。

所有公开方法由一把内部互斥锁串行化。该锁只保护页表、空闲链表、
置换器和帧元数据这些簿记状态，不保护页面内容；页面内容的并发
访问由每页自带的读写锁负责。NewPage/FetchPage路径上的磁盘IO
在持锁状态下同步完成。
*/
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize int
	pages    []page.Page

	// 页面号到帧号的映射，表中的帧一定驻留着对应页面
	pageTable map[common.PageID]common.FrameID

	// 无驻留页面的帧，后进先出
	freeList []common.FrameID

	replacer    *LRUKReplacer
	diskManager disk.DiskManager

	// 单调递增的页面号分配计数
	nextPageID common.PageID

	stats *BufferPoolStats
}

// NewBufferPoolManager 构建一个持有poolSize个帧的缓冲池
func NewBufferPoolManager(poolSize, k int, diskManager disk.DiskManager) *BufferPoolManager {
	m := &BufferPoolManager{
		poolSize:    poolSize,
		pages:       make([]page.Page, poolSize),
		pageTable:   make(map[common.PageID]common.FrameID),
		freeList:    make([]common.FrameID, 0, poolSize),
		replacer:    NewLRUKReplacer(poolSize, k),
		diskManager: diskManager,
		stats:       NewBufferPoolStats(),
	}
	for i := 0; i < poolSize; i++ {
		m.pages[i].ResetMeta()
		m.freeList = append(m.freeList, common.FrameID(i))
	}
	logger.Infof("buffer pool initialized with %d frames, lru-%d replacer", poolSize, k)
	return m
}

// PoolSize 缓冲池的帧数
func (m *BufferPoolManager) PoolSize() int {
	return m.poolSize
}

// Stats 缓冲池统计信息
func (m *BufferPoolManager) Stats() *BufferPoolStats {
	return m.stats
}

// ResidentPages 当前驻留在缓冲池中的页面数
func (m *BufferPoolManager) ResidentPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pageTable)
}

// PinCountOf 页面当前的pin计数，页面不驻留时返回-1
func (m *BufferPoolManager) PinCountOf(pageID common.PageID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	frameID, ok := m.pageTable[pageID]
	if !ok {
		return -1
	}
	return m.pages[frameID].PinCount()
}

// NewPage 分配一个新的逻辑页面并将其固定在某个帧上
//
// 返回的页面pin计数为1，内容清零。所有帧都被固定且无帧可淘汰时
// 返回nil，这是向上层传递的资源耗尽信号，缓冲池不会重试。
func (m *BufferPoolManager) NewPage() *page.Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.allocateFrameLocked()
	if !ok {
		return nil
	}

	pageID := m.nextPageID
	m.nextPageID++

	pg := &m.pages[frameID]
	pg.ResetMemory()
	pg.SetPageID(pageID)
	pg.SetPinCount(1)
	pg.SetDirty(false)
	m.pageTable[pageID] = frameID
	m.replacer.RecordAccess(frameID, common.ACCESS_TYPE_UNKNOWN)
	m.replacer.SetEvictable(frameID, false)
	return pg
}

// FetchPage 获取页面并固定其所在的帧，不在内存时从磁盘读入
//
// 命中时pin计数加一并记录一次访问。未命中且无帧可用时返回nil。
// 读盘失败对本次操作是致命的，同样返回nil。
func (m *BufferPoolManager) FetchPage(pageID common.PageID, accessType common.AccessType) *page.Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable[pageID]; ok {
		m.stats.RecordPageRequest(true)
		pg := &m.pages[frameID]
		pg.IncPinCount()
		m.replacer.RecordAccess(frameID, accessType)
		m.replacer.SetEvictable(frameID, false)
		return pg
	}
	m.stats.RecordPageRequest(false)

	frameID, ok := m.allocateFrameLocked()
	if !ok {
		return nil
	}

	pg := &m.pages[frameID]
	if err := m.diskManager.ReadPage(pageID, pg.Data()); err != nil {
		logger.Errorf("failed to read page %d from disk: %v", pageID, err)
		pg.ResetMeta()
		m.freeList = append(m.freeList, frameID)
		return nil
	}
	m.stats.RecordPageRead()

	pg.SetPageID(pageID)
	pg.SetPinCount(1)
	pg.SetDirty(false)
	m.pageTable[pageID] = frameID
	m.replacer.RecordAccess(frameID, accessType)
	m.replacer.SetEvictable(frameID, false)
	return pg
}

// UnpinPage 归还一次对页面的固定
//
// isDirty按或语义并入脏标记，已置脏的页面不会因后续unpin被洗白。
// pin计数降到0时帧变为可淘汰。页面不驻留或pin计数已为0时返回false。
func (m *BufferPoolManager) UnpinPage(pageID common.PageID, isDirty bool, accessType common.AccessType) bool {
	_ = accessType

	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}
	pg := &m.pages[frameID]
	if pg.PinCount() <= 0 {
		return false
	}
	if isDirty {
		pg.SetDirty(true)
	}
	pg.DecPinCount()
	if pg.PinCount() == 0 {
		m.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage 把页面写穿到磁盘并清除脏标记，不改变pin状态
// 页面不驻留或写盘失败时返回false
func (m *BufferPoolManager) FlushPage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushPageLocked(pageID)
}

// FlushAllPages 刷出所有驻留的脏页
func (m *BufferPoolManager) FlushAllPages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pageID, frameID := range m.pageTable {
		if m.pages[frameID].IsDirty() {
			m.flushPageLocked(pageID)
		}
	}
}

// DeletePage 把页面从缓冲池中删除并向磁盘层归还其页面号
//
// 页面不驻留时视为已删除，返回true；被固定时无法删除，返回false。
// 脏页先回写再删除。
func (m *BufferPoolManager) DeletePage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return true
	}
	pg := &m.pages[frameID]
	if pg.PinCount() > 0 {
		return false
	}
	if pg.IsDirty() {
		if err := m.diskManager.WritePage(pageID, pg.Data()); err != nil {
			logger.Errorf("failed to write back page %d before delete: %v", pageID, err)
			return false
		}
		m.stats.RecordPageWrite()
	}

	delete(m.pageTable, pageID)
	m.replacer.Remove(frameID)
	pg.ResetMemory()
	pg.ResetMeta()
	m.freeList = append(m.freeList, frameID)

	if err := m.diskManager.DeallocatePage(pageID); err != nil {
		logger.Warnf("failed to deallocate page %d: %v", pageID, err)
	}
	return true
}

// allocateFrameLocked 取一个可用帧：先从空闲链表弹出，
// 没有空闲帧时向置换器要一个牺牲帧，脏的牺牲帧同步回写。
// 调用方持有m.mu。
func (m *BufferPoolManager) allocateFrameLocked() (common.FrameID, bool) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := m.replacer.Evict()
	if !ok {
		logger.Warnf("buffer pool exhausted: all %d frames pinned", m.poolSize)
		return common.INVALID_FRAME_ID, false
	}
	m.stats.RecordEviction()

	victim := &m.pages[frameID]
	victimPageID := victim.PageID()
	if victim.IsDirty() {
		if err := m.diskManager.WritePage(victimPageID, victim.Data()); err != nil {
			logger.Errorf("failed to write back victim page %d: %v", victimPageID, err)
			// 回写失败不能丢弃该页，把帧重新登记为可淘汰并放弃分配
			m.replacer.RecordAccess(frameID, common.ACCESS_TYPE_UNKNOWN)
			m.replacer.SetEvictable(frameID, true)
			return common.INVALID_FRAME_ID, false
		}
		m.stats.RecordPageWrite()
		victim.SetDirty(false)
	}
	logger.Debugf("evicted page %d from frame %d", victimPageID, frameID)
	delete(m.pageTable, victimPageID)
	victim.SetPageID(common.INVALID_PAGE_ID)
	return frameID, true
}

// flushPageLocked 调用方持有m.mu
func (m *BufferPoolManager) flushPageLocked(pageID common.PageID) bool {
	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}
	pg := &m.pages[frameID]
	if err := m.diskManager.WritePage(pageID, pg.Data()); err != nil {
		logger.Errorf("failed to flush page %d: %v", pageID, err)
		m.stats.RecordFlush(false)
		return false
	}
	m.stats.RecordPageWrite()
	m.stats.RecordFlush(true)
	pg.SetDirty(false)
	return true
}
