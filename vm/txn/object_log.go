package txn

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/arena"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
)

// fieldValue 单个字段槽位被事务首次覆写前的原值
// 标量按64位原始位模式保存，连同类型标签一起做位级重解释还原
type fieldValue struct {
	kind     heap.Kind
	raw      uint64
	ref      *heap.Object
	volatile bool
}

// ObjectLog 单个对象的字段写日志
// 同一偏移只记第一次覆写前的原值，后续写入不覆盖；
// 事务内新建的对象被整体标记为new，永远不逐字段记录
type ObjectLog struct {
	isNew  bool
	slab   *arena.Slab[fieldValue]
	values map[heap.MemberOffset]*fieldValue
	order  []heap.MemberOffset
}

func (l *ObjectLog) init(slab *arena.Slab[fieldValue]) {
	l.slab = slab
	l.values = make(map[heap.MemberOffset]*fieldValue)
}

// Size 返回已记录的字段数
func (l *ObjectLog) Size() int {
	return len(l.values)
}

// IsNewObject 返回对象是否为事务内新建
func (l *ObjectLog) IsNewObject() bool {
	return l.isNew
}

// log 记录一个字段原值，首写生效
func (l *ObjectLog) log(off heap.MemberOffset, kind heap.Kind, raw uint64, ref *heap.Object, volatile bool) {
	if l.isNew {
		logger.Panicf("txn: field logging on new-flagged object log")
	}
	if _, ok := l.values[off]; ok {
		// 同一偏移保留最早记录的原值
		return
	}
	node := l.slab.New()
	node.kind = kind
	node.raw = raw
	node.ref = ref
	node.volatile = volatile
	l.values[off] = node
	l.order = append(l.order, off)
}

// undo 把记录的原值写回对象
// 标量按类型标签分路截断写回，引用走带写屏障的存储
func (l *ObjectLog) undo(h *heap.Heap, obj *heap.Object) {
	for i := len(l.order) - 1; i >= 0; i-- {
		off := l.order[i]
		fv := l.values[off]
		switch fv.kind {
		case heap.KindBool:
			obj.SetFieldBits(off, fv.raw&1)
		case heap.KindByte:
			obj.SetFieldBits(off, fv.raw&0xFF)
		case heap.KindChar:
			obj.SetFieldBits(off, fv.raw&0xFFFF)
		case heap.KindShort:
			obj.SetFieldBits(off, fv.raw&0xFFFF)
		case heap.KindInt:
			obj.SetFieldBits(off, fv.raw&0xFFFFFFFF)
		case heap.KindLong:
			obj.SetFieldBits(off, fv.raw)
		case heap.KindReference:
			h.SetFieldReference(obj, off, fv.ref)
		default:
			logger.Panicf("txn: unknown field kind %s in object log", fv.kind)
		}
	}
}

// visitRoots 暴露日志里引用类型的原值
func (l *ObjectLog) visitRoots(visit func(*heap.Object) *heap.Object) {
	for _, off := range l.order {
		fv := l.values[off]
		if fv.kind == heap.KindReference && fv.ref != nil {
			if moved := visit(fv.ref); moved != fv.ref {
				fv.ref = moved
			}
		}
	}
}
