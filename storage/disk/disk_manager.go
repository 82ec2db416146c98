package disk

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
)

// DiskManager 磁盘管理器，负责按页读写数据文件
//
// 缓冲池只依赖这三个操作；页的分配计数由缓冲池自己维护，
// 这里只负责字节级IO和逻辑页号的回收
type DiskManager interface {

	// ReadPage 从磁盘读取一个页填充到data中，len(data)必须等于PAGE_SIZE
	ReadPage(pageID common.PageID, data []byte) error

	// WritePage 将data同步写入pageID对应的磁盘位置
	WritePage(pageID common.PageID, data []byte) error

	// DeallocatePage 释放一个逻辑页号
	DeallocatePage(pageID common.PageID) error

	// Close 关闭底层文件
	Close() error
}
