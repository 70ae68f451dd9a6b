package gc

import (
	"sync"
	"time"

	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
)

// RootSource 向回收器暴露根引用的来源
// visit回调对每个根引用恰好调用一次，并以返回值写回（支持移动式回收器）；
// 根的发现使用原始读取，不经过读屏障
type RootSource interface {
	VisitRoots(visit func(*heap.Object) *heap.Object)
}

// WeakTable 弱引用表，回收时清除未标记条目
type WeakTable interface {
	SweepWeak(marked func(*heap.Object) bool) int
}

// Stats 一次回收的统计
type Stats struct {
	Marked      int
	Reclaimed   int
	WeakCleared int
	Duration    time.Duration
}

// Collector 标记-清除回收器
// 只实现根扫描与追踪所需的最小闭环：标记阶段从登记的RootSource出发，
// 清除阶段回收未标记对象并清理弱引用表
type Collector struct {
	heap *heap.Heap

	mu      sync.Mutex
	sources []RootSource
	weaks   []WeakTable

	collections uint64
}

// NewCollector 创建回收器
func NewCollector(h *heap.Heap) *Collector {
	return &Collector{heap: h}
}

// RegisterRootSource 登记一个根来源
func (c *Collector) RegisterRootSource(s RootSource) {
	if s == nil {
		logger.Panicf("gc: registering nil root source")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
}

// UnregisterRootSource 注销一个根来源
func (c *Collector) UnregisterRootSource(s RootSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.sources {
		if cur == s {
			c.sources = append(c.sources[:i], c.sources[i+1:]...)
			return
		}
	}
}

// RegisterWeakTable 登记一个弱引用表
func (c *Collector) RegisterWeakTable(t WeakTable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weaks = append(c.weaks, t)
}

// Collections 返回已完成的回收次数
func (c *Collector) Collections() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collections
}

// Collect 执行一次stop-the-world标记清除
func (c *Collector) Collect() Stats {
	start := time.Now()

	c.mu.Lock()
	sources := make([]RootSource, len(c.sources))
	copy(sources, c.sources)
	weaks := make([]WeakTable, len(c.weaks))
	copy(weaks, c.weaks)
	c.mu.Unlock()

	c.heap.MutatorLatch().Lock()
	defer c.heap.MutatorLatch().Unlock()

	marks := make(map[*heap.Object]struct{})
	var work []*heap.Object

	mark := func(o *heap.Object) *heap.Object {
		if o != nil {
			if _, ok := marks[o]; !ok {
				marks[o] = struct{}{}
				work = append(work, o)
			}
		}
		// 非移动式回收器：根引用原样写回
		return o
	}

	for _, s := range sources {
		s.VisitRoots(mark)
	}

	for len(work) > 0 {
		o := work[len(work)-1]
		work = work[:len(work)-1]
		o.VisitReferences(func(child *heap.Object) {
			mark(child)
		})
	}

	isMarked := func(o *heap.Object) bool {
		_, ok := marks[o]
		return ok
	}

	reclaimed := c.heap.Sweep(isMarked)
	weakCleared := 0
	for _, w := range weaks {
		weakCleared += w.SweepWeak(isMarked)
	}
	c.heap.ClearCards()

	c.mu.Lock()
	c.collections++
	c.mu.Unlock()

	stats := Stats{
		Marked:      len(marks),
		Reclaimed:   reclaimed,
		WeakCleared: weakCleared,
		Duration:    time.Since(start),
	}
	logger.Debugf("gc: marked=%d reclaimed=%d weak_cleared=%d in %v",
		stats.Marked, stats.Reclaimed, stats.WeakCleared, stats.Duration)
	return stats
}
