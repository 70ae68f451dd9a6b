package heap

import (
	"sync"

	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/latch"
)

// Heap 托管堆
// 负责对象分配、引用存储的写屏障（卡表标记）以及供回收器扫描的分配登记表。
// 互斥器锁：普通读写持共享态，回滚/回收这类整体改写堆状态的路径持排他态
type Heap struct {
	mutator *latch.Latch

	mu      sync.Mutex // 保护分配登记表与卡表
	objects map[*Object]struct{}
	cards   map[*Object]struct{}

	stringClass *Class
	allocated   uint64
}

// NewHeap 创建托管堆
func NewHeap() *Heap {
	return &Heap{
		mutator:     latch.NewLatch("mutator"),
		objects:     make(map[*Object]struct{}),
		cards:       make(map[*Object]struct{}),
		stringClass: NewClass("java.lang.String"),
	}
}

// MutatorLatch 返回互斥器锁
func (h *Heap) MutatorLatch() *latch.Latch {
	return h.mutator
}

// StringClass 返回字符串类
func (h *Heap) StringClass() *Class {
	return h.stringClass
}

func (h *Heap) track(o *Object) *Object {
	h.mu.Lock()
	h.objects[o] = struct{}{}
	h.allocated++
	h.mu.Unlock()
	return o
}

// AllocObject 分配一个普通对象
func (h *Heap) AllocObject(klass *Class, numFields int) *Object {
	if klass == nil {
		logger.Panicf("heap: allocation with nil class")
	}
	if klass.IsArrayClass() {
		logger.Panicf("heap: AllocObject with array class %s", klass.Name())
	}
	return h.track(&Object{klass: klass, slots: make([]Slot, numFields)})
}

// AllocArray 分配一个数组对象
func (h *Heap) AllocArray(klass *Class, length int) *Object {
	if klass == nil || !klass.IsArrayClass() {
		logger.Panicf("heap: AllocArray requires an array class")
	}
	if length < 0 {
		logger.Panicf("heap: negative array length %d", length)
	}
	return h.track(&Object{klass: klass, slots: make([]Slot, length)})
}

// AllocString 分配一个字符串对象
func (h *Heap) AllocString(s string) *Object {
	return h.track(&Object{klass: h.stringClass, utf: s})
}

// Contains 返回对象是否登记在本堆
func (h *Heap) Contains(o *Object) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.objects[o]
	return ok
}

// NumObjects 返回存活对象数
func (h *Heap) NumObjects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// TotalAllocated 返回累计分配对象数
func (h *Heap) TotalAllocated() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocated
}

// ForEachObject 遍历分配登记表，回调返回false时停止
func (h *Heap) ForEachObject(fn func(*Object) bool) {
	h.mu.Lock()
	snapshot := make([]*Object, 0, len(h.objects))
	for o := range h.objects {
		snapshot = append(snapshot, o)
	}
	h.mu.Unlock()

	for _, o := range snapshot {
		if !fn(o) {
			return
		}
	}
}

// WriteBarrier 引用存储后的卡表标记
func (h *Heap) WriteBarrier(holder *Object) {
	if holder == nil {
		return
	}
	h.mu.Lock()
	h.cards[holder] = struct{}{}
	h.mu.Unlock()
}

// DirtyCards 返回卡表中脏对象的数量
func (h *Heap) DirtyCards() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cards)
}

// ClearCards 清空卡表
func (h *Heap) ClearCards() {
	h.mu.Lock()
	h.cards = make(map[*Object]struct{})
	h.mu.Unlock()
}

// SetFieldReference 带写屏障的引用字段存储
func (h *Heap) SetFieldReference(obj *Object, off MemberOffset, ref *Object) {
	obj.SetFieldReference(off, ref)
	h.WriteBarrier(obj)
}

// SetElemReference 带写屏障的引用数组元素存储
func (h *Heap) SetElemReference(arr *Object, i int, ref *Object) {
	arr.SetElemReference(i, ref)
	h.WriteBarrier(arr)
}

// Sweep 回收未被标记的对象，返回回收数量
// 必须在互斥器锁排他态下调用
func (h *Heap) Sweep(marked func(*Object) bool) int {
	h.mutator.AssertExclusiveHeld("Heap.Sweep")

	h.mu.Lock()
	defer h.mu.Unlock()

	reclaimed := 0
	for o := range h.objects {
		if !marked(o) {
			delete(h.objects, o)
			reclaimed++
		}
	}
	return reclaimed
}
