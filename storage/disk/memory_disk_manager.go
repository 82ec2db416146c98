package disk

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xstorage-engine/common"
)

// MemoryDiskManager 内存磁盘管理器，测试用
type MemoryDiskManager struct {
	mu          sync.Mutex
	pages       map[common.PageID][]byte
	deallocated map[common.PageID]struct{}
}

func NewMemoryDiskManager() *MemoryDiskManager {
	return &MemoryDiskManager{
		pages:       make(map[common.PageID][]byte),
		deallocated: make(map[common.PageID]struct{}),
	}
}

func (dm *MemoryDiskManager) ReadPage(pageID common.PageID, data []byte) error {
	if len(data) != common.PAGE_SIZE {
		return ErrInvalidPageSize
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, ok := dm.deallocated[pageID]; ok {
		return errors.Wrapf(ErrPageDeallocated, "page %d", pageID)
	}
	if stored, ok := dm.pages[pageID]; ok {
		copy(data, stored)
	} else {
		for i := range data {
			data[i] = 0
		}
	}
	return nil
}

func (dm *MemoryDiskManager) WritePage(pageID common.PageID, data []byte) error {
	if len(data) != common.PAGE_SIZE {
		return ErrInvalidPageSize
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	stored := make([]byte, common.PAGE_SIZE)
	copy(stored, data)
	dm.pages[pageID] = stored
	delete(dm.deallocated, pageID)
	return nil
}

func (dm *MemoryDiskManager) DeallocatePage(pageID common.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	delete(dm.pages, pageID)
	dm.deallocated[pageID] = struct{}{}
	return nil
}

func (dm *MemoryDiskManager) Close() error { return nil }

// NumPages 当前持有的页数，测试断言用
func (dm *MemoryDiskManager) NumPages() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pages)
}
