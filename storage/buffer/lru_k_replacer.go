package buffer

import (
	"container/list"
	"sync"

	"github.com/juju/errors"
	"github.com/zhukovaskychina/xstorage-engine/common"
)

/*
*
LRUKReplacer LRU-K置换器

帧的淘汰优先级由其倒数第K次访问的时间决定。访问不足K次的帧
视作倒数第K次访问在无穷远处，优先被淘汰，彼此之间按首次访问
的先后FIFO淘汰。

实现上把帧分在两条链表里：
  - historyList 访问次数 < K 的帧，按首次访问顺序排列（队头最新），
    整条链表表现为FIFO；
  - cacheList 访问次数 >= K 的帧，按最近一次访问排列（队头最新），
    整条链表表现为LRU。

两条链表各配一个帧号到链表节点的索引，删除为O(1)。
淘汰时先从historyList队尾向队头扫，取首次访问最早的可淘汰帧；
history链中没有可淘汰帧时再扫cacheList，取最近一次访问最久远的可淘汰帧。
*/
type LRUKReplacer struct {
	mu sync.Mutex

	k        int
	poolSize int

	// 每帧的累计访问次数与可淘汰标记，下标为帧号
	counts    []int
	evictable []bool

	historyList  *list.List
	historyIndex map[common.FrameID]*list.Element
	cacheList    *list.List
	cacheIndex   map[common.FrameID]*list.Element

	// 当前可淘汰帧的数量
	curSize int
}

// NewLRUKReplacer 构建一个管理poolSize个帧的LRU-K置换器
func NewLRUKReplacer(poolSize, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:            k,
		poolSize:     poolSize,
		counts:       make([]int, poolSize),
		evictable:    make([]bool, poolSize),
		historyList:  list.New(),
		historyIndex: make(map[common.FrameID]*list.Element),
		cacheList:    list.New(),
		cacheIndex:   make(map[common.FrameID]*list.Element),
	}
}

// RecordAccess 记录一次对frameID的访问
//
// 访问次数跨过K时帧从historyList迁入cacheList；
// 已在cacheList中的帧每次访问都移到队头；
// 不足K次的后续访问不改变historyList中的位置。
func (r *LRUKReplacer) RecordAccess(frameID common.FrameID, accessType common.AccessType) error {
	if frameID < 0 || int(frameID) >= r.poolSize {
		return errors.NotValidf("frame id %d out of range [0, %d)", frameID, r.poolSize)
	}
	_ = accessType

	r.mu.Lock()
	defer r.mu.Unlock()

	r.counts[frameID]++
	switch c := r.counts[frameID]; {
	case c == r.k:
		if el, ok := r.historyIndex[frameID]; ok {
			r.historyList.Remove(el)
			delete(r.historyIndex, frameID)
		}
		r.cacheIndex[frameID] = r.cacheList.PushFront(frameID)
	case c > r.k:
		if el, ok := r.cacheIndex[frameID]; ok {
			r.cacheList.Remove(el)
		}
		r.cacheIndex[frameID] = r.cacheList.PushFront(frameID)
	case c == 1:
		r.historyIndex[frameID] = r.historyList.PushFront(frameID)
	}
	return nil
}

// SetEvictable 设置帧是否可被淘汰，重复设置同一状态是幂等的
// 对从未记录过访问的帧不产生任何效果
func (r *LRUKReplacer) SetEvictable(frameID common.FrameID, evictable bool) error {
	if frameID < 0 || int(frameID) >= r.poolSize {
		return errors.NotValidf("frame id %d out of range [0, %d)", frameID, r.poolSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts[frameID] == 0 || r.evictable[frameID] == evictable {
		return nil
	}
	r.evictable[frameID] = evictable
	if evictable {
		r.curSize++
	} else {
		r.curSize--
	}
	return nil
}

// Evict 淘汰一个可淘汰帧
//
// 先按FIFO序扫historyList，没有可淘汰帧时再按LRU序扫cacheList。
// 淘汰会清空该帧的访问记录。没有可淘汰帧时返回false。
func (r *LRUKReplacer) Evict() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for el := r.historyList.Back(); el != nil; el = el.Prev() {
		frameID := el.Value.(common.FrameID)
		if r.evictable[frameID] {
			r.historyList.Remove(el)
			delete(r.historyIndex, frameID)
			r.resetLocked(frameID)
			return frameID, true
		}
	}
	for el := r.cacheList.Back(); el != nil; el = el.Prev() {
		frameID := el.Value.(common.FrameID)
		if r.evictable[frameID] {
			r.cacheList.Remove(el)
			delete(r.cacheIndex, frameID)
			r.resetLocked(frameID)
			return frameID, true
		}
	}
	return common.INVALID_FRAME_ID, false
}

// Remove 把可淘汰的帧从置换器中摘除并清空其访问记录
// 帧不可淘汰时不做任何事；调用方应先SetEvictable再Remove
func (r *LRUKReplacer) Remove(frameID common.FrameID) error {
	if frameID < 0 || int(frameID) >= r.poolSize {
		return errors.NotValidf("frame id %d out of range [0, %d)", frameID, r.poolSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.evictable[frameID] {
		return nil
	}
	if el, ok := r.historyIndex[frameID]; ok {
		r.historyList.Remove(el)
		delete(r.historyIndex, frameID)
	}
	if el, ok := r.cacheIndex[frameID]; ok {
		r.cacheList.Remove(el)
		delete(r.cacheIndex, frameID)
	}
	r.resetLocked(frameID)
	return nil
}

// Size 当前可淘汰帧的数量
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.curSize
}

func (r *LRUKReplacer) resetLocked(frameID common.FrameID) {
	r.counts[frameID] = 0
	r.evictable[frameID] = false
	r.curSize--
}
