package txn

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
)

// NoNewRecordsGuard 一段代码区间内禁止产生新事务记录的调试保护
// 典型用法：回收器触发的终结化等路径在事务"封笔"但尚未销毁时运行，
// 这些路径绝不应该再往日志里追加记录
type NoNewRecordsGuard struct {
	t        *Transaction
	prev     string
	released bool
}

// AssertNoNewRecords 安装保护，返回的guard在区间结束时Release
//
//	guard := t.AssertNoNewRecords("gc finalization")
//	defer guard.Release()
func (t *Transaction) AssertNoNewRecords(reason string) *NoNewRecordsGuard {
	g := &NoNewRecordsGuard{t: t, prev: t.forbidNewReason}
	t.forbidNewCount++
	t.forbidNewReason = reason
	return g
}

// Release 解除保护，可嵌套，重复解除属于运行时自身缺陷
func (g *NoNewRecordsGuard) Release() {
	if g.released {
		logger.Panicf("txn: no-new-records guard released twice")
	}
	g.released = true
	g.t.forbidNewCount--
	g.t.forbidNewReason = g.prev
	if g.t.forbidNewCount < 0 {
		logger.Panicf("txn: no-new-records guard underflow")
	}
}
