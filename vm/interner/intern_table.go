package interner

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/util"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/latch"
)

// InternTable 运行时字符串驻留表
// 强引用层与弱引用层各自按内容Hash分桶；强引用层是回收器的根，
// 弱引用层在回收时清除未标记的条目。
// 表有自己的锁，与堆的互斥器锁相互独立：回滚驻留表变更只需要本表锁
type InternTable struct {
	lock   *latch.Latch
	strong map[uint64][]*heap.Object
	weak   map[uint64][]*heap.Object
}

// NewInternTable 创建驻留表
func NewInternTable() *InternTable {
	return &InternTable{
		lock:   latch.NewLatch("intern-table"),
		strong: make(map[uint64][]*heap.Object),
		weak:   make(map[uint64][]*heap.Object),
	}
}

// Latch 返回驻留表锁
func (it *InternTable) Latch() *latch.Latch {
	return it.lock
}

func lookup(tier map[uint64][]*heap.Object, s string) *heap.Object {
	for _, obj := range tier[util.HashString(s)] {
		if obj.UTF() == s {
			return obj
		}
	}
	return nil
}

func insert(tier map[uint64][]*heap.Object, obj *heap.Object) {
	h := util.HashString(obj.UTF())
	tier[h] = append(tier[h], obj)
}

func remove(tier map[uint64][]*heap.Object, obj *heap.Object) bool {
	h := util.HashString(obj.UTF())
	bucket := tier[h]
	for i, cur := range bucket {
		if cur == obj {
			tier[h] = append(bucket[:i], bucket[i+1:]...)
			if len(tier[h]) == 0 {
				delete(tier, h)
			}
			return true
		}
	}
	return false
}

// LookupStrong 在强引用层查找
func (it *InternTable) LookupStrong(s string) *heap.Object {
	it.lock.RLock()
	defer it.lock.RUnlock()
	return lookup(it.strong, s)
}

// LookupWeak 在弱引用层查找
func (it *InternTable) LookupWeak(s string) *heap.Object {
	it.lock.RLock()
	defer it.lock.RUnlock()
	return lookup(it.weak, s)
}

// InsertStrong 把字符串对象插入强引用层
func (it *InternTable) InsertStrong(obj *heap.Object) {
	it.lock.Lock()
	defer it.lock.Unlock()
	insert(it.strong, obj)
}

// RemoveStrong 从强引用层移除
func (it *InternTable) RemoveStrong(obj *heap.Object) {
	it.lock.Lock()
	defer it.lock.Unlock()
	if !remove(it.strong, obj) {
		logger.Warnf("intern table: strong removal of %q missed", obj.UTF())
	}
}

// InsertWeak 把字符串对象插入弱引用层
func (it *InternTable) InsertWeak(obj *heap.Object) {
	it.lock.Lock()
	defer it.lock.Unlock()
	insert(it.weak, obj)
}

// RemoveWeak 从弱引用层移除
func (it *InternTable) RemoveWeak(obj *heap.Object) {
	it.lock.Lock()
	defer it.lock.Unlock()
	if !remove(it.weak, obj) {
		logger.Warnf("intern table: weak removal of %q missed", obj.UTF())
	}
}

// InternStrong 驻留一个字符串并返回规范对象
// 弱引用层已有同内容对象时提升为强引用
func (it *InternTable) InternStrong(h *heap.Heap, s string) *heap.Object {
	it.lock.Lock()
	defer it.lock.Unlock()

	if obj := lookup(it.strong, s); obj != nil {
		return obj
	}
	if obj := lookup(it.weak, s); obj != nil {
		remove(it.weak, obj)
		insert(it.strong, obj)
		return obj
	}
	obj := h.AllocString(s)
	insert(it.strong, obj)
	return obj
}

// InternWeak 弱驻留一个字符串并返回规范对象
func (it *InternTable) InternWeak(h *heap.Heap, s string) *heap.Object {
	it.lock.Lock()
	defer it.lock.Unlock()

	if obj := lookup(it.strong, s); obj != nil {
		return obj
	}
	if obj := lookup(it.weak, s); obj != nil {
		return obj
	}
	obj := h.AllocString(s)
	insert(it.weak, obj)
	return obj
}

// StrongSize 返回强引用层条目数
func (it *InternTable) StrongSize() int {
	it.lock.RLock()
	defer it.lock.RUnlock()
	n := 0
	for _, bucket := range it.strong {
		n += len(bucket)
	}
	return n
}

// WeakSize 返回弱引用层条目数
func (it *InternTable) WeakSize() int {
	it.lock.RLock()
	defer it.lock.RUnlock()
	n := 0
	for _, bucket := range it.weak {
		n += len(bucket)
	}
	return n
}

// VisitRoots 把强引用层的全部条目暴露给回收器的根扫描
func (it *InternTable) VisitRoots(visit func(*heap.Object) *heap.Object) {
	it.lock.RLock()
	defer it.lock.RUnlock()
	for h, bucket := range it.strong {
		for i, obj := range bucket {
			if moved := visit(obj); moved != obj {
				it.strong[h][i] = moved
			}
		}
	}
}

// SweepWeak 清除弱引用层里未被标记的条目，返回清除数
func (it *InternTable) SweepWeak(marked func(*heap.Object) bool) int {
	it.lock.Lock()
	defer it.lock.Unlock()

	cleared := 0
	for h, bucket := range it.weak {
		kept := bucket[:0]
		for _, obj := range bucket {
			if marked(obj) {
				kept = append(kept, obj)
			} else {
				cleared++
			}
		}
		if len(kept) == 0 {
			delete(it.weak, h)
		} else {
			it.weak[h] = kept
		}
	}
	return cleared
}
