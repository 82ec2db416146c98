package index

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/storage/buffer"
)

/*
*
Context 一次写操作（插入/删除）的下降上下文

持有头页守卫和从上到下取得的写守卫栈，以及对应的页面号路径。
螃蟹锁协议下，某个孩子被判定为安全节点时，栈中它之上的所有
祖先锁（含头页锁）一并释放；操作结束时Drop清空剩余的一切。

headerGuard非空意味着writeSet[0]（如果有）就是根节点。
*/
type Context struct {
	headerGuard *buffer.WritePageGuard

	// 自根向叶的写守卫栈，writeSet[i]对应pathIDs[i]
	writeSet []*buffer.WritePageGuard
	pathIDs  []common.PageID
}

func newContext() *Context {
	return &Context{}
}

func (c *Context) push(g *buffer.WritePageGuard, pageID common.PageID) {
	c.writeSet = append(c.writeSet, g)
	c.pathIDs = append(c.pathIDs, pageID)
}

func (c *Context) top() *buffer.WritePageGuard {
	return c.writeSet[len(c.writeSet)-1]
}

func (c *Context) depth() int {
	return len(c.writeSet)
}

// releaseAncestors 栈顶节点是安全节点时释放它之上的所有锁
// 头页锁一并释放，之后栈里只剩栈顶一个守卫
func (c *Context) releaseAncestors() {
	if c.headerGuard != nil {
		c.headerGuard.Drop()
		c.headerGuard = nil
	}
	last := len(c.writeSet) - 1
	for i := 0; i < last; i++ {
		c.writeSet[i].Drop()
	}
	c.writeSet[0] = c.writeSet[last]
	c.writeSet = c.writeSet[:1]
	c.pathIDs[0] = c.pathIDs[last]
	c.pathIDs = c.pathIDs[:1]
}

// Drop 释放上下文中残留的全部守卫，自叶向根解锁
func (c *Context) Drop() {
	for i := len(c.writeSet) - 1; i >= 0; i-- {
		c.writeSet[i].Drop()
	}
	c.writeSet = c.writeSet[:0]
	c.pathIDs = c.pathIDs[:0]
	if c.headerGuard != nil {
		c.headerGuard.Drop()
		c.headerGuard = nil
	}
}
