package page

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

/*
*
BTreeInternalPage 内部页视图

页头之后是定长槽位数组，每个槽位存一个(key, childPageID)对：

	| key (keySize字节) | childPageID (4字节) |

Size()统计的是子指针个数。槽位0的键域不参与查找，其内容不作约定；
对i >= 1，KeyAt(i)是经由ChildAt(i)可达的最小键。
键序：KeyAt(1) < KeyAt(2) < ... < KeyAt(size-1)。
*/
type BTreeInternalPage struct {
	BTreePage
}

// AsInternalPage 将页面字节映像解释为内部页视图
func AsInternalPage(data []byte) *BTreeInternalPage {
	return &BTreeInternalPage{BTreePage{data: data}}
}

// InternalPageCapacity 给定键宽下一个内部页所能容纳的最大子指针数
func InternalPageCapacity(keySize int) int {
	return (common.PAGE_SIZE - NODE_HEADER_SIZE) / (keySize + 4)
}

// Init 初始化一个空内部页
func (p *BTreeInternalPage) Init(keySize, maxSize int) {
	p.SetPageType(INTERNAL_PAGE)
	p.SetKeySize(keySize)
	p.SetSize(0)
	p.SetMaxSize(maxSize)
}

func (p *BTreeInternalPage) entrySize() int {
	return p.KeySize() + 4
}

func (p *BTreeInternalPage) entryOffset(index int) int {
	return NODE_HEADER_SIZE + index*p.entrySize()
}

// KeyAt 返回第index个槽位的键，槽位0的键无意义
func (p *BTreeInternalPage) KeyAt(index int) []byte {
	off := p.entryOffset(index)
	return p.data[off : off+p.KeySize()]
}

// SetKeyAt 覆写第index个槽位的键
func (p *BTreeInternalPage) SetKeyAt(index int, key []byte) {
	copy(p.KeyAt(index), key)
}

// ChildAt 返回第index个槽位的子页面号
func (p *BTreeInternalPage) ChildAt(index int) common.PageID {
	off := p.entryOffset(index) + p.KeySize()
	return common.PageID(int32(util.ReadUB4Byte2UInt32(p.data[off:])))
}

func (p *BTreeInternalPage) SetChildAt(index int, pageID common.PageID) {
	off := p.entryOffset(index) + p.KeySize()
	util.WriteUB4(p.data, off, uint32(int32(pageID)))
}

// ValueIndex 线性查找子页面号所在的槽位，不存在时返回-1
func (p *BTreeInternalPage) ValueIndex(pageID common.PageID) int {
	for i := 0; i < p.Size(); i++ {
		if p.ChildAt(i) == pageID {
			return i
		}
	}
	return -1
}

// LookupChild 返回key应当下降到的子页面号
// 在[1, size)上二分查找最后一个键不大于key的槽位，不存在时走槽位0
func (p *BTreeInternalPage) LookupChild(key []byte, cmp common.KeyComparator) common.PageID {
	result := 0
	lo, hi := 1, p.Size()-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if cmp.Compare(p.KeyAt(mid), key) <= 0 {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return p.ChildAt(result)
}

// PopulateNewRoot 树长高时用两个子页面填充新根
// 槽位0只挂左子指针，键域置零
func (p *BTreeInternalPage) PopulateNewRoot(left common.PageID, key []byte, right common.PageID) {
	for i := range p.KeyAt(0) {
		p.KeyAt(0)[i] = 0
	}
	p.SetChildAt(0, left)
	p.SetSize(2)
	p.SetKeyAt(1, key)
	p.SetChildAt(1, right)
}

// InsertNodeAfter 在oldChild所在槽位之后插入(key, newChild)
// 调用方必须保证页面未满
func (p *BTreeInternalPage) InsertNodeAfter(oldChild common.PageID, key []byte, newChild common.PageID) {
	index := p.ValueIndex(oldChild) + 1
	p.shiftRight(index)
	p.IncreaseSize(1)
	p.SetKeyAt(index, key)
	p.SetChildAt(index, newChild)
}

// RemoveAt 删除第index个槽位（分隔键连同子指针一起删除）
func (p *BTreeInternalPage) RemoveAt(index int) {
	p.shiftLeft(index)
	p.IncreaseSize(-1)
}

func (p *BTreeInternalPage) shiftRight(index int) {
	es := p.entrySize()
	src := p.data[p.entryOffset(index):p.entryOffset(p.Size())]
	dst := p.data[p.entryOffset(index)+es:]
	copy(dst, src)
}

func (p *BTreeInternalPage) shiftLeft(index int) {
	src := p.data[p.entryOffset(index+1):p.entryOffset(p.Size())]
	dst := p.data[p.entryOffset(index):]
	copy(dst, src)
}

// MoveAllTo 合并辅助：父节点的分隔键middleKey降为本页槽位0的键，
// 然后把本页全部槽位追加到dst尾部并清空本页
func (p *BTreeInternalPage) MoveAllTo(dst *BTreeInternalPage, middleKey []byte) {
	p.SetKeyAt(0, middleKey)
	copy(dst.data[dst.entryOffset(dst.Size()):], p.data[p.entryOffset(0):p.entryOffset(p.Size())])
	dst.IncreaseSize(p.Size())
	p.SetSize(0)
}

// MoveFirstToEndOf 再分配辅助：本页槽位0的子指针以middleKey为键追加到dst尾部
func (p *BTreeInternalPage) MoveFirstToEndOf(dst *BTreeInternalPage, middleKey []byte) {
	index := dst.Size()
	dst.IncreaseSize(1)
	dst.SetKeyAt(index, middleKey)
	dst.SetChildAt(index, p.ChildAt(0))
	p.shiftLeft(0)
	p.IncreaseSize(-1)
}

// MoveLastToFrontOf 再分配辅助：本页最后一个子指针成为dst新的槽位0，
// middleKey落到dst原槽位0（现槽位1）的键域上
func (p *BTreeInternalPage) MoveLastToFrontOf(dst *BTreeInternalPage, middleKey []byte) {
	dst.shiftRight(0)
	dst.IncreaseSize(1)
	for i := range dst.KeyAt(0) {
		dst.KeyAt(0)[i] = 0
	}
	dst.SetChildAt(0, p.ChildAt(p.Size()-1))
	dst.SetKeyAt(1, middleKey)
	p.IncreaseSize(-1)
}
