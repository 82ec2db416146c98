package index

import (
	"github.com/juju/errors"
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/logger"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer"
	"github.com/zhukovaskychina/xstorage-engine/storage/page"
)

/*
*
BTree 基于缓冲池的并发B+树索引

键是定长字节串，值是RID。树通过一个头页记住当前根的页面号，
空树的根为INVALID_PAGE_ID。所有页面访问都经由页面守卫，
索引层不直接接触缓冲池的帧。

并发控制采用螃蟹锁：
  - 读路径（查找、迭代器定位）沿途加共享锁，先锁孩子再放父亲；
  - 写路径（插入、删除）沿途加排他锁并压入Context栈，
    孩子被判定为安全节点（插入不会分裂/删除不会下溢）时
    释放其上全部祖先锁，否则保留到操作结束。

头页锁位于每个写操作守卫栈的最底端，根的变更都发生在
头页排他锁的保护之下，读者至少持头页共享锁读根，因此
新根一经发布，读者看到的就是一条完整的下降路径。
*/
type BTree struct {
	bpm        *buffer.BufferPoolManager
	comparator common.KeyComparator

	keySize         int
	leafMaxSize     int
	internalMaxSize int

	headerPageID common.PageID
}

// NewBTree 构建一棵B+树
//
// headerPageID为INVALID_PAGE_ID时新建头页（空树）；
// 传入已有头页号则接管磁盘上既存的树。
// 超出页面容量的maxSize会被收缩到容量上限。
func NewBTree(bpm *buffer.BufferPoolManager, comparator common.KeyComparator,
	keySize, leafMaxSize, internalMaxSize int, headerPageID common.PageID) (*BTree, error) {
	switch keySize {
	case 4, 8, 16, 32, 64:
	default:
		return nil, errors.NotValidf("key size %d", keySize)
	}
	if cap := page.LeafPageCapacity(keySize); leafMaxSize > cap {
		leafMaxSize = cap
	}
	if cap := page.InternalPageCapacity(keySize); internalMaxSize > cap {
		internalMaxSize = cap
	}
	if leafMaxSize < 2 {
		return nil, errors.NotValidf("leaf max size %d", leafMaxSize)
	}
	if internalMaxSize < 3 {
		return nil, errors.NotValidf("internal max size %d", internalMaxSize)
	}

	if headerPageID == common.INVALID_PAGE_ID {
		g := bpm.NewPageGuarded()
		if g == nil {
			return nil, errors.New("buffer pool exhausted while allocating btree header page")
		}
		page.AsBTreeHeaderPage(g.DataMut()).SetRootPageID(common.INVALID_PAGE_ID)
		headerPageID = g.PageID()
		g.Drop()
		logger.Debugf("btree header page allocated at page %d", headerPageID)
	}

	return &BTree{
		bpm:             bpm,
		comparator:      comparator,
		keySize:         keySize,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		headerPageID:    headerPageID,
	}, nil
}

// HeaderPageID 本树头页的页面号
func (t *BTree) HeaderPageID() common.PageID {
	return t.headerPageID
}

// GetRootPageID 当前根的页面号，空树返回INVALID_PAGE_ID
func (t *BTree) GetRootPageID() common.PageID {
	hg := t.bpm.FetchPageRead(t.headerPageID, common.ACCESS_TYPE_LOOKUP)
	if hg == nil {
		return common.INVALID_PAGE_ID
	}
	defer hg.Drop()
	return page.AsBTreeHeaderPage(hg.Data()).RootPageID()
}

// IsEmpty 树是否为空
func (t *BTree) IsEmpty() bool {
	return t.GetRootPageID() == common.INVALID_PAGE_ID
}

// GetValue 点查，命中时把对应RID追加到result并返回true
func (t *BTree) GetValue(key []byte, result *[]common.RID) bool {
	if len(key) != t.keySize {
		return false
	}
	hg := t.bpm.FetchPageRead(t.headerPageID, common.ACCESS_TYPE_LOOKUP)
	if hg == nil {
		return false
	}
	root := page.AsBTreeHeaderPage(hg.Data()).RootPageID()
	if root == common.INVALID_PAGE_ID {
		hg.Drop()
		return false
	}

	// 共享锁手递手下降：锁住孩子之后才放开父亲
	prev := hg
	cur := root
	for {
		g := t.bpm.FetchPageRead(cur, common.ACCESS_TYPE_LOOKUP)
		if g == nil {
			prev.Drop()
			return false
		}
		prev.Drop()

		node := page.AsBTreePage(g.Data())
		if node.IsLeafPage() {
			leaf := page.AsLeafPage(g.Data())
			idx := leaf.KeyIndex(key, t.comparator)
			found := idx < leaf.Size() && t.comparator.Compare(leaf.KeyAt(idx), key) == 0
			if found {
				*result = append(*result, leaf.RIDAt(idx))
			}
			g.Drop()
			return found
		}
		cur = page.AsInternalPage(g.Data()).LookupChild(key, t.comparator)
		prev = g
	}
}

// Insert 唯一键插入，键已存在时返回false
func (t *BTree) Insert(key []byte, rid common.RID) bool {
	if len(key) != t.keySize {
		return false
	}
	ctx := newContext()
	defer ctx.Drop()

	hg := t.bpm.FetchPageWrite(t.headerPageID, common.ACCESS_TYPE_INDEX)
	if hg == nil {
		return false
	}
	ctx.headerGuard = hg
	root := page.AsBTreeHeaderPage(hg.Data()).RootPageID()
	if root == common.INVALID_PAGE_ID {
		return t.startNewTree(hg, key, rid)
	}
	if !t.descendWrite(ctx, root, key, true) {
		return false
	}

	lg := ctx.top()
	leaf := page.AsLeafPage(lg.DataMut())
	idx := leaf.KeyIndex(key, t.comparator)
	if idx < leaf.Size() && t.comparator.Compare(leaf.KeyAt(idx), key) == 0 {
		return false
	}
	if leaf.Size() < leaf.MaxSize() {
		leaf.Insert(key, rid, t.comparator)
		return true
	}
	return t.splitLeaf(ctx, leaf, idx, key, rid)
}

// Remove 删除键，键不存在时静默返回
func (t *BTree) Remove(key []byte) {
	if len(key) != t.keySize {
		return
	}
	ctx := newContext()
	defer ctx.Drop()

	hg := t.bpm.FetchPageWrite(t.headerPageID, common.ACCESS_TYPE_INDEX)
	if hg == nil {
		return
	}
	ctx.headerGuard = hg
	root := page.AsBTreeHeaderPage(hg.Data()).RootPageID()
	if root == common.INVALID_PAGE_ID {
		return
	}
	if !t.descendWrite(ctx, root, key, false) {
		return
	}

	lg := ctx.top()
	leaf := page.AsLeafPage(lg.DataMut())
	if !leaf.RemoveKey(key, t.comparator) {
		return
	}
	t.fixUnderflow(ctx, ctx.depth()-1)
}

// startNewTree 第一条记录插入空树：新建叶子根
func (t *BTree) startNewTree(hg *buffer.WritePageGuard, key []byte, rid common.RID) bool {
	ng := t.bpm.NewPageGuarded()
	if ng == nil {
		return false
	}
	defer ng.Drop()
	leaf := page.AsLeafPage(ng.DataMut())
	leaf.Init(t.keySize, t.leafMaxSize)
	leaf.Insert(key, rid, t.comparator)
	page.AsBTreeHeaderPage(hg.DataMut()).SetRootPageID(ng.PageID())
	logger.Debugf("btree root created at page %d", ng.PageID())
	return true
}

// descendWrite 排他锁下降到key所在的叶子，沿途守卫压入ctx，
// 遇到安全节点时释放其上全部祖先锁
func (t *BTree) descendWrite(ctx *Context, root common.PageID, key []byte, forInsert bool) bool {
	cur := root
	isRoot := true
	for {
		g := t.bpm.FetchPageWrite(cur, common.ACCESS_TYPE_INDEX)
		if g == nil {
			return false
		}
		ctx.push(g, cur)
		node := page.AsBTreePage(g.Data())
		if t.nodeSafe(node, isRoot, forInsert) {
			ctx.releaseAncestors()
		}
		if node.IsLeafPage() {
			return true
		}
		cur = page.AsInternalPage(g.Data()).LookupChild(key, t.comparator)
		isRoot = false
	}
}

// nodeSafe 安全节点判定
// 插入：再放一个条目也不会分裂；删除：再摘一个条目也不会下溢。
// 根的下界特殊：叶子根至少1条，内部根至少2个孩子。
func (t *BTree) nodeSafe(node *page.BTreePage, isRoot, forInsert bool) bool {
	if forInsert {
		return node.Size()+1 < node.MaxSize()
	}
	if isRoot {
		if node.IsLeafPage() {
			return node.Size() > 1
		}
		return node.Size() > 2
	}
	return node.Size()-1 >= node.MinSize()
}

// splitLeaf 叶子分裂
//
// 左叶保留前MinSize个条目，其余搬入新右叶并接好叶链。
// 触发键按它在分裂前整页上的插入位决定落盘侧：
// idx < ceil(max/2) 落左叶（此时左叶先把最后一个条目挪到右叶头部让出位置），
// 否则落右叶。两侧分裂后都不低于最小条目数。
// 随后把右叶首键提升到父节点。
func (t *BTree) splitLeaf(ctx *Context, leaf *page.BTreeLeafPage, idx int, key []byte, rid common.RID) bool {
	ng := t.bpm.NewPageGuarded()
	if ng == nil {
		return false
	}
	defer ng.Drop()
	right := page.AsLeafPage(ng.DataMut())
	right.Init(t.keySize, leaf.MaxSize())

	leaf.MoveHalfTo(right)
	right.SetNextPageID(leaf.NextPageID())
	leaf.SetNextPageID(ng.PageID())

	if idx < leaf.MinSize() {
		leaf.MoveLastToFrontOf(right)
		leaf.Insert(key, rid, t.comparator)
	} else {
		right.Insert(key, rid, t.comparator)
	}

	midKey := t.copyKey(right.KeyAt(0))
	return t.insertInParent(ctx, ctx.depth()-1, midKey, ng.PageID())
}

// insertInParent 把分裂产生的(midKey, rightID)挂到level层节点的父亲上
//
// level层节点是根时新建内部根；父节点满时用暂存数组重排分裂，
// 提升中位对并向上递归。内部页槽位0的键是哨兵，提升的中位对
// 不落在任何一侧，而是拆成右节点的槽位0子指针和父节点里的分隔键。
func (t *BTree) insertInParent(ctx *Context, level int, key []byte, rightID common.PageID) bool {
	leftID := ctx.pathIDs[level]
	if level == 0 {
		rg := t.bpm.NewPageGuarded()
		if rg == nil {
			return false
		}
		defer rg.Drop()
		newRoot := page.AsInternalPage(rg.DataMut())
		newRoot.Init(t.keySize, t.internalMaxSize)
		newRoot.PopulateNewRoot(leftID, key, rightID)
		page.AsBTreeHeaderPage(ctx.headerGuard.DataMut()).SetRootPageID(rg.PageID())
		logger.Debugf("btree grew: new root at page %d", rg.PageID())
		return true
	}

	pg := ctx.writeSet[level-1]
	parent := page.AsInternalPage(pg.DataMut())
	if parent.Size() < parent.MaxSize() {
		parent.InsertNodeAfter(leftID, key, rightID)
		return true
	}

	// 父节点也满：把全部条目连同新条目收进暂存数组再分两半
	type entry struct {
		key   []byte
		child common.PageID
	}
	entries := make([]entry, 0, parent.Size()+1)
	for i := 0; i < parent.Size(); i++ {
		entries = append(entries, entry{t.copyKey(parent.KeyAt(i)), parent.ChildAt(i)})
	}
	insertPos := parent.ValueIndex(leftID) + 1
	entries = append(entries, entry{})
	copy(entries[insertPos+1:], entries[insertPos:])
	entries[insertPos] = entry{t.copyKey(key), rightID}

	ng := t.bpm.NewPageGuarded()
	if ng == nil {
		return false
	}
	defer ng.Drop()
	right := page.AsInternalPage(ng.DataMut())
	right.Init(t.keySize, parent.MaxSize())

	promoteIdx := (parent.MaxSize() + 1) / 2
	promoted := entries[promoteIdx]

	parent.SetSize(promoteIdx)
	for i := 0; i < promoteIdx; i++ {
		parent.SetKeyAt(i, entries[i].key)
		parent.SetChildAt(i, entries[i].child)
	}

	rest := entries[promoteIdx+1:]
	right.SetSize(1 + len(rest))
	right.SetChildAt(0, promoted.child)
	for j, e := range rest {
		right.SetKeyAt(j+1, e.key)
		right.SetChildAt(j+1, e.child)
	}

	return t.insertInParent(ctx, level-1, promoted.key, ng.PageID())
}

// fixUnderflow 自叶向根修复下溢
//
// 兄弟的选取是确定性的：父槽位i>1或位于末槽时取左邻（i-1），
// 否则取右邻（i+1）。兄弟出借一个条目即可恢复下界时做再分配，
// 否则把右节点并入左节点、从父节点摘掉分隔键并向上递归。
// 兄弟锁在父锁之后获取、父锁之前释放。
func (t *BTree) fixUnderflow(ctx *Context, level int) {
	g := ctx.writeSet[level]
	node := page.AsBTreePage(g.Data())

	if level == 0 {
		if ctx.headerGuard != nil {
			t.adjustRoot(ctx)
		}
		return
	}
	if node.Size() >= node.MinSize() {
		return
	}

	pgG := ctx.writeSet[level-1]
	parent := page.AsInternalPage(pgG.DataMut())
	nodeID := ctx.pathIDs[level]
	idx := parent.ValueIndex(nodeID)

	var sibIdx int
	if idx > 1 || idx == parent.Size()-1 {
		sibIdx = idx - 1
	} else {
		sibIdx = idx + 1
	}
	sibID := parent.ChildAt(sibIdx)

	sg := t.bpm.FetchPageWrite(sibID, common.ACCESS_TYPE_INDEX)
	if sg == nil {
		logger.Errorf("buffer pool exhausted while repairing underflow at page %d", nodeID)
		return
	}
	defer sg.Drop()
	sibNode := page.AsBTreePage(sg.Data())

	if sibNode.Size() > sibNode.MinSize() {
		t.redistribute(parent, g, sg, node.IsLeafPage(), idx, sibIdx)
		return
	}

	// 合并：摆正左右，右并入左
	sepIdx := idx
	if sibIdx > idx {
		sepIdx = sibIdx
	}
	sepKey := t.copyKey(parent.KeyAt(sepIdx))

	leftG, rightG := sg, g
	rightID := nodeID
	if sibIdx > idx {
		leftG, rightG = g, sg
		rightID = sibID
	}

	if node.IsLeafPage() {
		leftLeaf := page.AsLeafPage(leftG.DataMut())
		rightLeaf := page.AsLeafPage(rightG.DataMut())
		rightLeaf.MoveAllTo(leftLeaf)
		leftLeaf.SetNextPageID(rightLeaf.NextPageID())
	} else {
		leftInt := page.AsInternalPage(leftG.DataMut())
		rightInt := page.AsInternalPage(rightG.DataMut())
		rightInt.MoveAllTo(leftInt, sepKey)
	}
	parent.RemoveAt(sepIdx)

	rightG.Drop()
	t.bpm.DeletePage(rightID)

	t.fixUnderflow(ctx, level-1)
}

// redistribute 兄弟出借一个条目，父节点的分隔键更新为新边界
//
// 内部节点出借的是边缘子指针：旧分隔键旋下来作并入条目的键，
// 出借侧的边缘键旋上去作新分隔键。
func (t *BTree) redistribute(parent *page.BTreeInternalPage, g, sg *buffer.WritePageGuard, isLeaf bool, idx, sibIdx int) {
	if sibIdx < idx {
		// 左邻出借最后一个条目
		if isLeaf {
			sib := page.AsLeafPage(sg.DataMut())
			node := page.AsLeafPage(g.DataMut())
			sib.MoveLastToFrontOf(node)
			parent.SetKeyAt(idx, node.KeyAt(0))
		} else {
			sib := page.AsInternalPage(sg.DataMut())
			node := page.AsInternalPage(g.DataMut())
			sepKey := t.copyKey(parent.KeyAt(idx))
			newSep := t.copyKey(sib.KeyAt(sib.Size() - 1))
			sib.MoveLastToFrontOf(node, sepKey)
			parent.SetKeyAt(idx, newSep)
		}
		return
	}
	// 右邻出借第一个条目
	if isLeaf {
		sib := page.AsLeafPage(sg.DataMut())
		node := page.AsLeafPage(g.DataMut())
		sib.MoveFirstToEndOf(node)
		parent.SetKeyAt(sibIdx, sib.KeyAt(0))
	} else {
		sib := page.AsInternalPage(sg.DataMut())
		node := page.AsInternalPage(g.DataMut())
		sepKey := t.copyKey(parent.KeyAt(sibIdx))
		newSep := t.copyKey(sib.KeyAt(1))
		sib.MoveFirstToEndOf(node, sepKey)
		parent.SetKeyAt(sibIdx, newSep)
	}
}

// adjustRoot 根的收尾
//
// 内部根只剩一个孩子时让位给它，树降低一层；
// 叶子根删空时整棵树变空。其余情况不动。
func (t *BTree) adjustRoot(ctx *Context) {
	g := ctx.writeSet[0]
	node := page.AsBTreePage(g.Data())
	rootID := ctx.pathIDs[0]

	if !node.IsLeafPage() && node.Size() == 1 {
		onlyChild := page.AsInternalPage(g.Data()).ChildAt(0)
		page.AsBTreeHeaderPage(ctx.headerGuard.DataMut()).SetRootPageID(onlyChild)
		g.Drop()
		t.bpm.DeletePage(rootID)
		logger.Debugf("btree shrank: root collapsed to page %d", onlyChild)
		return
	}
	if node.IsLeafPage() && node.Size() == 0 {
		page.AsBTreeHeaderPage(ctx.headerGuard.DataMut()).SetRootPageID(common.INVALID_PAGE_ID)
		g.Drop()
		t.bpm.DeletePage(rootID)
		logger.Debugf("btree emptied: root page %d freed", rootID)
	}
}

func (t *BTree) copyKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}
