package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
)

func TestTransactionManagerLifecycle(t *testing.T) {
	h, it, pool := newTestEnv()
	tm := NewTransactionManager(pool, h, it)
	rootClass := heap.NewClass("com.example.Init")

	assert.False(t, tm.IsTransactionModeActive())
	assert.Equal(t, TXN_STATE_NONE, tm.State())
	assert.Equal(t, ErrNoActiveTransaction, tm.ExitTransactionMode())

	tx := tm.EnterTransactionMode(false, rootClass)
	require.NotNil(t, tx)
	assert.True(t, tm.IsTransactionModeActive())
	assert.Equal(t, TXN_STATE_ACTIVE, tm.State())
	assert.Same(t, tx, tm.Current())
	assert.Equal(t, 1, tm.Depth())

	require.NoError(t, tm.ExitTransactionMode())
	assert.False(t, tm.IsTransactionModeActive())
	assert.Equal(t, TXN_STATE_NONE, tm.State())
	assert.Nil(t, tm.Current())

	entered, committed, rolledBack := tm.Stats()
	assert.Equal(t, uint64(1), entered)
	assert.Equal(t, uint64(1), committed)
	assert.Equal(t, uint64(0), rolledBack)
}

// 嵌套事务共用最外层的arena栈：全程只从池里借出一个栈，
// 最外层退出时一次性归还
func TestNestedTransactionsShareArena(t *testing.T) {
	h, it, pool := newTestEnv()
	tm := NewTransactionManager(pool, h, it)

	outer := tm.EnterTransactionMode(false, heap.NewClass("com.example.Outer"))
	inner := tm.EnterTransactionMode(true, heap.NewClass("com.example.Inner"))
	innermost := tm.EnterTransactionMode(false, heap.NewClass("com.example.Innermost"))

	assert.Equal(t, 3, tm.Depth())
	assert.Same(t, outer.ArenaStack(), inner.ArenaStack())
	assert.Same(t, outer.ArenaStack(), innermost.ArenaStack())

	acquired, released := pool.Stats()
	assert.Equal(t, uint64(1), acquired)
	assert.Equal(t, uint64(0), released)

	require.NoError(t, tm.ExitTransactionMode())
	require.NoError(t, tm.RollbackAndExitTransactionMode())
	// 内层回滚后外层仍在事务模式
	assert.Equal(t, TXN_STATE_ACTIVE, tm.State())
	require.NoError(t, tm.ExitTransactionMode())

	acquired, released = pool.Stats()
	assert.Equal(t, uint64(1), acquired)
	assert.Equal(t, uint64(1), released)
}

func TestRollbackAndExitRestoresHeap(t *testing.T) {
	h, it, pool := newTestEnv()
	tm := NewTransactionManager(pool, h, it)
	rootClass := heap.NewClass("com.example.Init")
	obj := h.AllocObject(rootClass, 1)
	obj.SetFieldInt32(0, 11)

	tx := tm.EnterTransactionMode(false, rootClass)
	tx.RecordWriteField32(obj, 0, uint32(obj.FieldInt32(0)), false)
	obj.SetFieldInt32(0, 22)

	require.NoError(t, tm.RollbackAndExitTransactionMode())

	assert.Equal(t, int32(11), obj.FieldInt32(0))
	assert.Equal(t, TXN_STATE_ROLLED_BACK, tm.State())
	assert.False(t, tm.IsTransactionModeActive())

	_, _, rolledBack := tm.Stats()
	assert.Equal(t, uint64(1), rolledBack)
}

func TestAbortedTransactionCannotCommit(t *testing.T) {
	h, it, pool := newTestEnv()
	tm := NewTransactionManager(pool, h, it)

	tx := tm.EnterTransactionMode(true, heap.NewClass("com.example.Init"))
	tx.Abort("initializer failed")

	assert.Equal(t, ErrInvalidTransactionState, tm.ExitTransactionMode())
	// 回滚退出仍然可行
	require.NoError(t, tm.RollbackAndExitTransactionMode())
	assert.False(t, tm.IsTransactionModeActive())
}

func TestManagerRequiresPoolAndHeap(t *testing.T) {
	h, it, pool := newTestEnv()
	assert.Panics(t, func() { NewTransactionManager(nil, h, it) })
	assert.Panics(t, func() { NewTransactionManager(pool, nil, it) })
}

func TestTransactionReleasedTwicePanics(t *testing.T) {
	_, _, pool := newTestEnv()
	tx := NewTransaction(false, heap.NewClass("com.example.Init"), nil, pool)
	tx.Release()
	assert.Panics(t, func() { tx.Release() })
}
