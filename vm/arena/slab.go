package arena

import (
	"unsafe"

	"github.com/zhukovaskychina/xvm-runtime/logger"
)

// 日志节点里带有堆对象引用，所以节点必须保存在GC可见的类型化内存里，
// 不能埋进原始字节块；Stack归还时整批丢弃引用即完成释放。

const defaultSlabChunkCap = 256

// Slab 从所属Stack按块批量分配固定类型的日志节点
type Slab[T any] struct {
	stack    *Stack
	chunkCap int
	chunks   [][]T
	used     int // 最后一个块已用的节点数
	count    int
}

// NewSlab 在指定Stack上创建一个类型化的节点分配视图
func NewSlab[T any](st *Stack, chunkCap int) *Slab[T] {
	if st.Released() {
		logger.Panicf("arena: slab created on released stack")
	}
	if chunkCap <= 0 {
		chunkCap = defaultSlabChunkCap
	}
	s := &Slab[T]{stack: st, chunkCap: chunkCap}
	st.register(s)
	return s
}

// New 分配一个零值节点
func (s *Slab[T]) New() *T {
	if s.stack.Released() {
		logger.Panicf("arena: allocation from released stack")
	}
	if len(s.chunks) == 0 || s.used == s.chunkCap {
		s.chunks = append(s.chunks, make([]T, s.chunkCap))
		s.used = 0
		var zero T
		s.stack.account(uint64(s.chunkCap) * uint64(unsafe.Sizeof(zero)))
	}
	node := &s.chunks[len(s.chunks)-1][s.used]
	s.used++
	s.count++
	return node
}

// Len 返回已分配的节点数
func (s *Slab[T]) Len() int {
	return s.count
}

func (s *Slab[T]) discard() {
	s.chunks = nil
	s.used = 0
	s.count = 0
}
