package page

import (
	"sync"

	"github.com/zhukovaskychina/xstorage-engine/common"
)

/*
*
Page 是缓冲池中一个帧的控制体，持有固定大小的页面映像和帧级元数据：
当前驻留的页面号、脏标记、pin计数以及一把读写锁。
pin计数和脏标记由缓冲池在自己的互斥锁下维护；
页面内容的并发访问则由每页的读写锁保护，两者互不越界。
*/
type Page struct {
	rwlatch sync.RWMutex

	data     [common.PAGE_SIZE]byte
	pageID   common.PageID
	pinCount int
	isDirty  bool
}

// Data 返回页面内容
func (p *Page) Data() []byte {
	return p.data[:]
}

// PageID 返回当前驻留的页面号，INVALID_PAGE_ID表示该帧空闲
func (p *Page) PageID() common.PageID {
	return p.pageID
}

func (p *Page) SetPageID(pageID common.PageID) {
	p.pageID = pageID
}

func (p *Page) PinCount() int {
	return p.pinCount
}

func (p *Page) SetPinCount(pinCount int) {
	p.pinCount = pinCount
}

func (p *Page) IncPinCount() {
	p.pinCount++
}

func (p *Page) DecPinCount() {
	p.pinCount--
}

func (p *Page) IsDirty() bool {
	return p.isDirty
}

func (p *Page) SetDirty(dirty bool) {
	p.isDirty = dirty
}

// ResetMemory 清空页面内容
func (p *Page) ResetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
}

// ResetMeta 将帧恢复为空闲状态
func (p *Page) ResetMeta() {
	p.pageID = common.INVALID_PAGE_ID
	p.pinCount = 0
	p.isDirty = false
}

// RLatch 获取共享锁
func (p *Page) RLatch() {
	p.rwlatch.RLock()
}

// RUnlatch 释放共享锁
func (p *Page) RUnlatch() {
	p.rwlatch.RUnlock()
}

// WLatch 获取排他锁
func (p *Page) WLatch() {
	p.rwlatch.Lock()
}

// WUnlatch 释放排他锁
func (p *Page) WUnlatch() {
	p.rwlatch.Unlock()
}
