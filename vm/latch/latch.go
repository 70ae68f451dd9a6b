package latch

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/xvm-runtime/logger"
)

// Latch 运行时内部锁
// 互斥器锁（mutator lock）与驻留表锁都用它：普通的堆读写持共享态，
// 回滚这类直接改写存活堆状态的路径持排他态
type Latch struct {
	mu        sync.RWMutex
	name      string
	exclusive atomic.Bool
}

// NewLatch 创建一个新的锁
func NewLatch(name string) *Latch {
	return &Latch{name: name}
}

// Name 返回锁的名称
func (l *Latch) Name() string {
	return l.name
}

// Lock 获取排他锁
func (l *Latch) Lock() {
	l.mu.Lock()
	l.exclusive.Store(true)
}

// Unlock 释放排他锁
func (l *Latch) Unlock() {
	l.exclusive.Store(false)
	l.mu.Unlock()
}

// RLock 获取共享锁
func (l *Latch) RLock() {
	l.mu.RLock()
}

// RUnlock 释放共享锁
func (l *Latch) RUnlock() {
	l.mu.RUnlock()
}

// TryLock 尝试获取排他锁
func (l *Latch) TryLock() bool {
	if l.mu.TryLock() {
		l.exclusive.Store(true)
		return true
	}
	return false
}

// TryRLock 尝试获取共享锁
func (l *Latch) TryRLock() bool {
	return l.mu.TryRLock()
}

// AssertExclusiveHeld 校验排他锁已持有，破坏该不变量属于运行时自身缺陷
func (l *Latch) AssertExclusiveHeld(caller string) {
	if !l.exclusive.Load() {
		logger.Panicf("latch %s: %s requires exclusive hold", l.name, caller)
	}
}
