package buffer

import (
	"sync/atomic"
	"time"
)

// BufferPoolStats 缓冲池统计信息，所有计数用原子操作维护，
// 只读观测，不影响缓冲池行为
type BufferPoolStats struct {
	PageRequests int64
	PageHits     int64
	PageMisses   int64

	PageReads     int64
	PageWrites    int64
	PageEvictions int64

	FlushRequests  int64
	FlushSuccesses int64
	FlushFailures  int64

	StartTime time.Time
}

// NewBufferPoolStats 创建新的统计对象
func NewBufferPoolStats() *BufferPoolStats {
	return &BufferPoolStats{StartTime: time.Now()}
}

// RecordPageRequest 记录一次页面请求及其是否命中
func (s *BufferPoolStats) RecordPageRequest(hit bool) {
	atomic.AddInt64(&s.PageRequests, 1)
	if hit {
		atomic.AddInt64(&s.PageHits, 1)
	} else {
		atomic.AddInt64(&s.PageMisses, 1)
	}
}

// RecordPageRead 记录一次磁盘读
func (s *BufferPoolStats) RecordPageRead() {
	atomic.AddInt64(&s.PageReads, 1)
}

// RecordPageWrite 记录一次磁盘写
func (s *BufferPoolStats) RecordPageWrite() {
	atomic.AddInt64(&s.PageWrites, 1)
}

// RecordEviction 记录一次页面淘汰
func (s *BufferPoolStats) RecordEviction() {
	atomic.AddInt64(&s.PageEvictions, 1)
}

// RecordFlush 记录一次刷盘及其结果
func (s *BufferPoolStats) RecordFlush(success bool) {
	atomic.AddInt64(&s.FlushRequests, 1)
	if success {
		atomic.AddInt64(&s.FlushSuccesses, 1)
	} else {
		atomic.AddInt64(&s.FlushFailures, 1)
	}
}

// HitRate 缓存命中率，没有请求时返回0
func (s *BufferPoolStats) HitRate() float64 {
	requests := atomic.LoadInt64(&s.PageRequests)
	if requests == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.PageHits)) / float64(requests)
}

// Snapshot 返回当前计数的拷贝，各计数分别原子读取，彼此之间不保证一致
func (s *BufferPoolStats) Snapshot() BufferPoolStats {
	return BufferPoolStats{
		PageRequests:   atomic.LoadInt64(&s.PageRequests),
		PageHits:       atomic.LoadInt64(&s.PageHits),
		PageMisses:     atomic.LoadInt64(&s.PageMisses),
		PageReads:      atomic.LoadInt64(&s.PageReads),
		PageWrites:     atomic.LoadInt64(&s.PageWrites),
		PageEvictions:  atomic.LoadInt64(&s.PageEvictions),
		FlushRequests:  atomic.LoadInt64(&s.FlushRequests),
		FlushSuccesses: atomic.LoadInt64(&s.FlushSuccesses),
		FlushFailures:  atomic.LoadInt64(&s.FlushFailures),
		StartTime:      s.StartTime,
	}
}
