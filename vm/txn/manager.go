package txn

import (
	"sync"

	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/vm/arena"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
)

// 事务模式状态
const (
	TXN_STATE_NONE uint8 = iota
	TXN_STATE_ACTIVE
	TXN_STATE_ROLLED_BACK
)

// TransactionManager 管理编译期事务模式的进入、退出与嵌套
// 嵌套事务共用最外层事务的arena栈，全部日志内存随最外层事务
// 一次性释放
type TransactionManager struct {
	mu sync.RWMutex

	pool     *arena.Pool
	heap     *heap.Heap
	interner *interner.InternTable

	stack []*Transaction
	state uint8

	// 统计
	entered    uint64
	committed  uint64
	rolledBack uint64
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager(pool *arena.Pool, h *heap.Heap, it *interner.InternTable) *TransactionManager {
	if pool == nil || h == nil {
		logger.Panicf("txn: transaction manager requires arena pool and heap")
	}
	return &TransactionManager{
		pool:     pool,
		heap:     h,
		interner: it,
		state:    TXN_STATE_NONE,
	}
}

// EnterTransactionMode 进入事务模式
// 已在事务模式时开启嵌套事务，复用最外层的arena栈
func (tm *TransactionManager) EnterTransactionMode(strict bool, rootClass *heap.Class) *Transaction {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var stack *arena.Stack
	if n := len(tm.stack); n > 0 {
		stack = tm.stack[0].ArenaStack()
	}

	t := NewTransaction(strict, rootClass, stack, tm.pool)
	tm.stack = append(tm.stack, t)
	tm.state = TXN_STATE_ACTIVE
	tm.entered++
	return t
}

// ExitTransactionMode 提交并退出当前（最内层）事务
// 提交就是把日志直接废弃：堆上的新值原样生效
func (tm *TransactionManager) ExitTransactionMode() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	n := len(tm.stack)
	if n == 0 {
		return ErrNoActiveTransaction
	}
	t := tm.stack[n-1]
	if t.IsAborted() {
		// 已中止的事务只能走回滚退出
		return ErrInvalidTransactionState
	}
	tm.stack = tm.stack[:n-1]
	t.Release()
	tm.committed++
	if len(tm.stack) == 0 {
		tm.state = TXN_STATE_NONE
	}
	return nil
}

// RollbackAndExitTransactionMode 回滚并退出当前（最内层）事务
func (tm *TransactionManager) RollbackAndExitTransactionMode() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	n := len(tm.stack)
	if n == 0 {
		return ErrNoActiveTransaction
	}
	t := tm.stack[n-1]
	tm.stack = tm.stack[:n-1]
	t.Rollback(tm.heap, tm.interner)
	t.Release()
	tm.rolledBack++
	if len(tm.stack) == 0 {
		tm.state = TXN_STATE_ROLLED_BACK
	} else {
		tm.state = TXN_STATE_ACTIVE
	}
	return nil
}

// State 返回事务模式状态
func (tm *TransactionManager) State() uint8 {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.state
}

// IsTransactionModeActive 返回是否处于事务模式
func (tm *TransactionManager) IsTransactionModeActive() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.stack) > 0
}

// Current 返回当前（最内层）事务，无事务时为nil
func (tm *TransactionManager) Current() *Transaction {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	if n := len(tm.stack); n > 0 {
		return tm.stack[n-1]
	}
	return nil
}

// Depth 返回事务嵌套深度
func (tm *TransactionManager) Depth() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.stack)
}

// Stats 返回进入/提交/回滚计数
func (tm *TransactionManager) Stats() (entered, committed, rolledBack uint64) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.entered, tm.committed, tm.rolledBack
}
