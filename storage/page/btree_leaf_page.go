package page

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

/*
*
BTreeLeafPage 叶子页视图

页头之后是按键升序排列的定长槽位数组，每个槽位存一个(key, RID)对：

	| key (keySize字节) | pageID (4字节) | slotNum (4字节) |

叶子页之间通过nextPageID串成单向链表，最右叶子的nextPageID为
INVALID_PAGE_ID。所有整数字段按大端序编码。
*/
type BTreeLeafPage struct {
	BTreePage
}

// AsLeafPage 将页面字节映像解释为叶子页视图
func AsLeafPage(data []byte) *BTreeLeafPage {
	return &BTreeLeafPage{BTreePage{data: data}}
}

// LeafPageCapacity 给定键宽下一个叶子页所能容纳的最大槽位数
func LeafPageCapacity(keySize int) int {
	return (common.PAGE_SIZE - NODE_HEADER_SIZE) / (keySize + 8)
}

// Init 初始化一个空叶子页
func (p *BTreeLeafPage) Init(keySize, maxSize int) {
	p.SetPageType(LEAF_PAGE)
	p.SetKeySize(keySize)
	p.SetSize(0)
	p.SetMaxSize(maxSize)
	p.SetNextPageID(common.INVALID_PAGE_ID)
}

// NextPageID 右邻叶子的页面号
func (p *BTreeLeafPage) NextPageID() common.PageID {
	return common.PageID(int32(util.ReadUB4Byte2UInt32(p.data[offsetNextPageID:])))
}

func (p *BTreeLeafPage) SetNextPageID(pageID common.PageID) {
	util.WriteUB4(p.data, offsetNextPageID, uint32(int32(pageID)))
}

func (p *BTreeLeafPage) entrySize() int {
	return p.KeySize() + 8
}

func (p *BTreeLeafPage) entryOffset(index int) int {
	return NODE_HEADER_SIZE + index*p.entrySize()
}

// KeyAt 返回第index个槽位的键，直接引用页内字节
func (p *BTreeLeafPage) KeyAt(index int) []byte {
	off := p.entryOffset(index)
	return p.data[off : off+p.KeySize()]
}

func (p *BTreeLeafPage) setKeyAt(index int, key []byte) {
	copy(p.KeyAt(index), key)
}

// RIDAt 返回第index个槽位的记录标识
func (p *BTreeLeafPage) RIDAt(index int) common.RID {
	off := p.entryOffset(index) + p.KeySize()
	return common.RID{
		PageID:  common.PageID(int32(util.ReadUB4Byte2UInt32(p.data[off:]))),
		SlotNum: common.SlotNum(int32(util.ReadUB4Byte2UInt32(p.data[off+4:]))),
	}
}

func (p *BTreeLeafPage) setRIDAt(index int, rid common.RID) {
	off := p.entryOffset(index) + p.KeySize()
	util.WriteUB4(p.data, off, uint32(int32(rid.PageID)))
	util.WriteUB4(p.data, off+4, uint32(int32(rid.SlotNum)))
}

// KeyIndex 二分查找第一个键不小于key的槽位号，不存在时返回Size()
func (p *BTreeLeafPage) KeyIndex(key []byte, cmp common.KeyComparator) int {
	lo, hi := 0, p.Size()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp.Compare(p.KeyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Insert 保序插入一个(key, RID)对，键已存在时返回false
// 调用方必须保证页面未满
func (p *BTreeLeafPage) Insert(key []byte, rid common.RID, cmp common.KeyComparator) bool {
	index := p.KeyIndex(key, cmp)
	if index < p.Size() && cmp.Compare(p.KeyAt(index), key) == 0 {
		return false
	}
	p.shiftRight(index)
	p.setKeyAt(index, key)
	p.setRIDAt(index, rid)
	p.IncreaseSize(1)
	return true
}

// RemoveKey 删除键对应的槽位，键不存在时返回false
func (p *BTreeLeafPage) RemoveKey(key []byte, cmp common.KeyComparator) bool {
	index := p.KeyIndex(key, cmp)
	if index >= p.Size() || cmp.Compare(p.KeyAt(index), key) != 0 {
		return false
	}
	p.shiftLeft(index)
	p.IncreaseSize(-1)
	return true
}

// shiftRight 将[index, size)整体右移一个槽位，腾出index
func (p *BTreeLeafPage) shiftRight(index int) {
	es := p.entrySize()
	src := p.data[p.entryOffset(index):p.entryOffset(p.Size())]
	dst := p.data[p.entryOffset(index)+es:]
	copy(dst, src)
}

// shiftLeft 将[index+1, size)整体左移一个槽位，覆盖index
func (p *BTreeLeafPage) shiftLeft(index int) {
	src := p.data[p.entryOffset(index+1):p.entryOffset(p.Size())]
	dst := p.data[p.entryOffset(index):]
	copy(dst, src)
}

// MoveHalfTo 分裂辅助：保留前MinSize()个槽位，把其余槽位搬到空页dst
func (p *BTreeLeafPage) MoveHalfTo(dst *BTreeLeafPage) {
	keep := p.MinSize()
	moved := p.Size() - keep
	copy(dst.data[dst.entryOffset(0):], p.data[p.entryOffset(keep):p.entryOffset(p.Size())])
	dst.SetSize(moved)
	p.SetSize(keep)
}

// MoveAllTo 合并辅助：把本页所有槽位追加到dst尾部并清空本页
// 叶子链表的next指针由调用方调整
func (p *BTreeLeafPage) MoveAllTo(dst *BTreeLeafPage) {
	copy(dst.data[dst.entryOffset(dst.Size()):], p.data[p.entryOffset(0):p.entryOffset(p.Size())])
	dst.IncreaseSize(p.Size())
	p.SetSize(0)
}

// MoveFirstToEndOf 再分配辅助：把本页第一个槽位搬到dst尾部
func (p *BTreeLeafPage) MoveFirstToEndOf(dst *BTreeLeafPage) {
	copy(dst.data[dst.entryOffset(dst.Size()):], p.data[p.entryOffset(0):p.entryOffset(1)])
	dst.IncreaseSize(1)
	p.shiftLeft(0)
	p.IncreaseSize(-1)
}

// MoveLastToFrontOf 再分配辅助：把本页最后一个槽位搬到dst头部
func (p *BTreeLeafPage) MoveLastToFrontOf(dst *BTreeLeafPage) {
	dst.shiftRight(0)
	copy(dst.data[dst.entryOffset(0):], p.data[p.entryOffset(p.Size()-1):p.entryOffset(p.Size())])
	dst.IncreaseSize(1)
	p.IncreaseSize(-1)
}
