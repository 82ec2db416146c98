package disk

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// FileDiskManager 单文件磁盘管理器
//
// 页按 offset = pageID * PAGE_SIZE 顺序存放在一个数据文件中，
// 写入时在内存里记录每页内容的xxhash校验值，重新读取时校验，
// 用于发现半写页面。磁盘上的字节就是页的原始映像，不加任何封装。
type FileDiskManager struct {
	mu sync.Mutex

	filePath string
	file     *os.File
	closed   bool

	// pageID -> 最近一次写入内容的hash
	checksums map[common.PageID]uint64

	deallocated map[common.PageID]struct{}
}

// NewFileDiskManager 打开（或创建）数据文件
func NewFileDiskManager(dataDir, fileName string) (*FileDiskManager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create data dir %s", dataDir)
	}
	filePath := filepath.Join(dataDir, fileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open data file %s", filePath)
	}
	logger.Infof("disk manager opened data file %s", filePath)
	return &FileDiskManager{
		filePath:    filePath,
		file:        file,
		checksums:   make(map[common.PageID]uint64),
		deallocated: make(map[common.PageID]struct{}),
	}, nil
}

func (dm *FileDiskManager) ReadPage(pageID common.PageID, data []byte) error {
	if len(data) != common.PAGE_SIZE {
		return ErrInvalidPageSize
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return ErrClosed
	}
	if _, ok := dm.deallocated[pageID]; ok {
		return errors.Wrapf(ErrPageDeallocated, "page %d", pageID)
	}

	offset := int64(pageID) * common.PAGE_SIZE
	n, err := dm.file.ReadAt(data, offset)
	if err == io.EOF || (err == nil && n < common.PAGE_SIZE) {
		// 从未写过的页读出来就是全零
		for i := n; i < common.PAGE_SIZE; i++ {
			data[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read page %d from %s", pageID, dm.filePath)
	}

	if sum, ok := dm.checksums[pageID]; ok {
		if util.HashCode(data) != sum {
			logger.Errorf("checksum mismatch on page %d of %s", pageID, dm.filePath)
			return errors.Wrapf(ErrChecksumMismatch, "page %d", pageID)
		}
	}
	return nil
}

func (dm *FileDiskManager) WritePage(pageID common.PageID, data []byte) error {
	if len(data) != common.PAGE_SIZE {
		return ErrInvalidPageSize
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return ErrClosed
	}

	offset := int64(pageID) * common.PAGE_SIZE
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "failed to write page %d to %s", pageID, dm.filePath)
	}
	dm.checksums[pageID] = util.HashCode(data)
	delete(dm.deallocated, pageID)
	return nil
}

func (dm *FileDiskManager) DeallocatePage(pageID common.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return ErrClosed
	}
	dm.deallocated[pageID] = struct{}{}
	delete(dm.checksums, pageID)
	return nil
}

// Sync 将数据文件落盘
func (dm *FileDiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return ErrClosed
	}
	return errors.Wrapf(dm.file.Sync(), "failed to sync %s", dm.filePath)
}

func (dm *FileDiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil
	}
	dm.closed = true
	logger.Infof("disk manager closed data file %s", dm.filePath)
	return dm.file.Close()
}
