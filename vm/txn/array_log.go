package txn

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/arena"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
)

// arrayValue 单个数组元素被事务首次覆写前的原值
// 一个数组的所有元素共享元素类型，所以这里不带类型标签，
// 回滚时从数组自身的类现取元素类型做分路
type arrayValue struct {
	raw uint64
	ref *heap.Object
}

// ArrayLog 单个数组的元素写日志，语义与ObjectLog对应
type ArrayLog struct {
	isNew  bool
	slab   *arena.Slab[arrayValue]
	values map[int]*arrayValue
	order  []int
}

func (l *ArrayLog) init(slab *arena.Slab[arrayValue]) {
	l.slab = slab
	l.values = make(map[int]*arrayValue)
}

// Size 返回已记录的元素数
func (l *ArrayLog) Size() int {
	return len(l.values)
}

// IsNewArray 返回数组是否为事务内新建
func (l *ArrayLog) IsNewArray() bool {
	return l.isNew
}

// log 记录一个元素原值，首写生效
func (l *ArrayLog) log(idx int, raw uint64, ref *heap.Object) {
	if l.isNew {
		logger.Panicf("txn: element logging on new-flagged array log")
	}
	if _, ok := l.values[idx]; ok {
		return
	}
	node := l.slab.New()
	node.raw = raw
	node.ref = ref
	l.values[idx] = node
	l.order = append(l.order, idx)
}

// undo 把记录的原值写回数组
// 元素类型在回滚时从数组的类指针现取；类身份分配后不可变，
// 因此与记录时刻看到的类型必然一致
func (l *ArrayLog) undo(h *heap.Heap, arr *heap.Object) {
	kind := arr.Class().ElemKind()
	for i := len(l.order) - 1; i >= 0; i-- {
		idx := l.order[i]
		av := l.values[idx]
		switch kind {
		case heap.KindBool, heap.KindByte, heap.KindChar, heap.KindShort,
			heap.KindInt, heap.KindFloat, heap.KindLong, heap.KindDouble:
			arr.SetElemBits(idx, av.raw)
		case heap.KindReference:
			h.SetElemReference(arr, idx, av.ref)
		default:
			logger.Panicf("txn: array log on class %s without element kind", arr.Class().Name())
		}
	}
}

// visitRoots 暴露引用数组日志里的元素原值
func (l *ArrayLog) visitRoots(visit func(*heap.Object) *heap.Object) {
	for _, idx := range l.order {
		av := l.values[idx]
		if av.ref != nil {
			if moved := visit(av.ref); moved != av.ref {
				av.ref = moved
			}
		}
	}
}
