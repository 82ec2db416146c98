package page

import (
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// 字节层面页面是无类型的，页头里的类型标记区分内部页和叶子页，
// 调用方先检查类型再选择对应的视图

// IndexPageType 索引页类型标记
type IndexPageType uint16

const (
	INVALID_INDEX_PAGE IndexPageType = 0
	INTERNAL_PAGE      IndexPageType = 1
	LEAF_PAGE          IndexPageType = 2
)

// 节点页头布局（大端序）
//
//	offset 0  pageType   uint16
//	offset 2  keySize    uint16
//	offset 4  size       uint32
//	offset 8  maxSize    uint32
//	offset 12 nextPageID uint32（仅叶子页使用）
//	offset 16 槽位数组起点
const (
	offsetPageType   = 0
	offsetKeySize    = 2
	offsetSize       = 4
	offsetMaxSize    = 8
	offsetNextPageID = 12

	// NODE_HEADER_SIZE 节点页头大小
	NODE_HEADER_SIZE = 16
)

// BTreePage 内部页和叶子页共享的页头视图
type BTreePage struct {
	data []byte
}

// AsBTreePage 将页面字节映像解释为节点页头视图
func AsBTreePage(data []byte) *BTreePage {
	return &BTreePage{data: data}
}

func (p *BTreePage) PageType() IndexPageType {
	return IndexPageType(util.ReadUB2Byte2Int(p.data[offsetPageType:]))
}

func (p *BTreePage) SetPageType(pageType IndexPageType) {
	util.WriteUB2(p.data, offsetPageType, uint16(pageType))
}

func (p *BTreePage) IsLeafPage() bool {
	return p.PageType() == LEAF_PAGE
}

// KeySize 本页键宽（字节）
func (p *BTreePage) KeySize() int {
	return int(util.ReadUB2Byte2Int(p.data[offsetKeySize:]))
}

func (p *BTreePage) SetKeySize(keySize int) {
	util.WriteUB2(p.data, offsetKeySize, uint16(keySize))
}

// Size 当前槽位数
func (p *BTreePage) Size() int {
	return int(util.ReadUB4Byte2UInt32(p.data[offsetSize:]))
}

func (p *BTreePage) SetSize(size int) {
	util.WriteUB4(p.data, offsetSize, uint32(size))
}

func (p *BTreePage) IncreaseSize(amount int) {
	p.SetSize(p.Size() + amount)
}

func (p *BTreePage) MaxSize() int {
	return int(util.ReadUB4Byte2UInt32(p.data[offsetMaxSize:]))
}

func (p *BTreePage) SetMaxSize(maxSize int) {
	util.WriteUB4(p.data, offsetMaxSize, uint32(maxSize))
}

// MinSize 非根节点允许的最小槽位数，即 ceil(maxSize/2)
func (p *BTreePage) MinSize() int {
	return (p.MaxSize() + 1) / 2
}
