package page

import (
	"github.com/zhukovaskychina/xstorage-engine/common"
	"github.com/zhukovaskychina/xstorage-engine/util"
)

// BTreeHeaderPage 每棵树一个的头页面，只持久化根页面号
// 空树的根页面号为INVALID_PAGE_ID
type BTreeHeaderPage struct {
	data []byte
}

func AsBTreeHeaderPage(data []byte) *BTreeHeaderPage {
	return &BTreeHeaderPage{data: data}
}

func (p *BTreeHeaderPage) RootPageID() common.PageID {
	return common.PageID(int32(util.ReadUB4Byte2UInt32(p.data)))
}

func (p *BTreeHeaderPage) SetRootPageID(pageID common.PageID) {
	util.WriteUB4(p.data, 0, uint32(int32(pageID)))
}
