package arena

import (
	"sync"

	"github.com/zhukovaskychina/xvm-runtime/logger"
)

// DefaultChunkSize 默认的arena块大小
const DefaultChunkSize = 64 * 1024

// Pool 管理可复用的日志内存栈
// 最外层事务从这里借出一个Stack，事务销毁时整体归还，没有逐节点释放
type Pool struct {
	mu        sync.Mutex
	chunkSize int
	free      []*Stack

	// 统计
	acquired uint64
	released uint64
}

// NewPool 创建arena池
func NewPool(chunkSize int) *Pool {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Pool{chunkSize: chunkSize}
}

// AcquireStack 借出一个日志内存栈，优先复用已归还的
func (p *Pool) AcquireStack() *Stack {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquired++
	if n := len(p.free); n > 0 {
		st := p.free[n-1]
		p.free = p.free[:n-1]
		st.reuse()
		return st
	}
	return &Stack{pool: p, chunkSize: p.chunkSize}
}

// ReleaseStack 归还一个日志内存栈，栈上的全部节点一次性失效
// 重复归还属于运行时自身缺陷
func (p *Pool) ReleaseStack(st *Stack) {
	if st == nil {
		logger.Panicf("arena: releasing nil stack")
	}
	if st.pool != p {
		logger.Panicf("arena: stack released to wrong pool")
	}
	st.release()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	p.free = append(p.free, st)
}

// Stats 返回借出/归还计数
func (p *Pool) Stats() (acquired, released uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired, p.released
}

// slabView 注册到Stack上的类型化分配视图，随Stack整体失效
type slabView interface {
	discard()
}

// Stack 一次最外层事务期间所有日志节点的bump分配器
// 嵌套事务共用外层的Stack，因此所有嵌套日志共享同一片批量释放的内存
type Stack struct {
	pool      *Pool
	chunkSize int

	chunks   [][]byte // 原始字节块，归还后复用
	oversize [][]byte // 超过块大小的独立分配，归还时直接丢弃
	off      int      // 最后一个块内的偏移

	slabs          []slabView
	bytesAllocated uint64
	released       bool
}

// AllocBytes 从栈上分配n个字节（8字节对齐）
func (st *Stack) AllocBytes(n int) []byte {
	if st.released {
		logger.Panicf("arena: allocation from released stack")
	}
	if n <= 0 {
		return nil
	}
	if n > st.chunkSize {
		// 超大分配独占一块，不参与bump复用
		chunk := make([]byte, n)
		st.oversize = append(st.oversize, chunk)
		st.bytesAllocated += uint64(n)
		return chunk
	}

	aligned := (n + 7) &^ 7
	if len(st.chunks) == 0 || st.off+aligned > st.chunkSize {
		st.chunks = append(st.chunks, make([]byte, st.chunkSize))
		st.off = 0
	}
	chunk := st.chunks[len(st.chunks)-1]
	buf := chunk[st.off : st.off+n : st.off+n]
	st.off += aligned
	st.bytesAllocated += uint64(aligned)
	return buf
}

// BytesAllocated 返回本栈累计分配的字节数（含节点slab）
func (st *Stack) BytesAllocated() uint64 {
	return st.bytesAllocated
}

// Released 返回栈是否已整体归还
func (st *Stack) Released() bool {
	return st.released
}

func (st *Stack) register(s slabView) {
	st.slabs = append(st.slabs, s)
}

func (st *Stack) account(bytes uint64) {
	st.bytesAllocated += bytes
}

func (st *Stack) release() {
	if st.released {
		logger.Panicf("arena: stack released twice")
	}
	st.released = true
	// 类型化节点随引用一次性丢弃；字节块留在栈上等待复用
	for _, s := range st.slabs {
		s.discard()
	}
	st.slabs = nil
	st.oversize = nil
}

func (st *Stack) reuse() {
	st.released = false
	st.off = 0
	st.bytesAllocated = 0
	for i := range st.chunks {
		for j := range st.chunks[i] {
			st.chunks[i][j] = 0
		}
	}
}
