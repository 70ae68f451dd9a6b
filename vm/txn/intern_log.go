package txn

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
)

// StringKind 驻留表条目的引用层级
type StringKind uint8

const (
	StringStrong StringKind = iota
	StringWeak
)

// StringOp 被记录的驻留表操作
type StringOp uint8

const (
	StringInsert StringOp = iota
	StringRemove
)

// internStringLog 单条驻留表变更记录
// 按插入顺序重放这些记录就是驻留表的回退脚本；
// 字符串引用在日志存活期间作为根被持有
type internStringLog struct {
	s    *heap.Object
	kind StringKind
	op   StringOp
}

// undo 反向重放一条驻留表变更，只依赖驻留表自身的锁
func (l *internStringLog) undo(it *interner.InternTable) {
	switch {
	case l.kind == StringStrong && l.op == StringInsert:
		it.RemoveStrong(l.s)
	case l.kind == StringStrong && l.op == StringRemove:
		it.InsertStrong(l.s)
	case l.kind == StringWeak && l.op == StringInsert:
		it.RemoveWeak(l.s)
	case l.kind == StringWeak && l.op == StringRemove:
		it.InsertWeak(l.s)
	default:
		logger.Panicf("txn: invalid intern string log kind=%d op=%d", l.kind, l.op)
	}
}
