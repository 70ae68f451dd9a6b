package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvm-runtime/vm/arena"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
	"github.com/zhukovaskychina/xvm-runtime/vm/txn"
)

// rootSet 测试用的显式根集合
type rootSet struct {
	roots []*heap.Object
}

func (r *rootSet) VisitRoots(visit func(*heap.Object) *heap.Object) {
	for i, o := range r.roots {
		r.roots[i] = visit(o)
	}
}

func TestCollectMarksFromRootsAndTraces(t *testing.T) {
	h := heap.NewHeap()
	c := NewCollector(h)

	klass := heap.NewClass("com.example.Node")
	root := h.AllocObject(klass, 1)
	child := h.AllocObject(klass, 1)
	grandchild := h.AllocObject(klass, 0)
	h.SetFieldReference(root, 0, child)
	h.SetFieldReference(child, 0, grandchild)
	garbage := h.AllocObject(klass, 0)

	c.RegisterRootSource(&rootSet{roots: []*heap.Object{root}})

	stats := c.Collect()

	assert.Equal(t, 3, stats.Marked)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.True(t, h.Contains(root))
	assert.True(t, h.Contains(child))
	assert.True(t, h.Contains(grandchild))
	assert.False(t, h.Contains(garbage))
	assert.Equal(t, uint64(1), c.Collections())
}

func TestCollectSweepsWeakTable(t *testing.T) {
	h := heap.NewHeap()
	it := interner.NewInternTable()
	c := NewCollector(h)
	c.RegisterRootSource(it)
	c.RegisterWeakTable(it)

	strong := it.InternStrong(h, "pinned")
	weak := it.InternWeak(h, "collectible")

	stats := c.Collect()

	// 强驻留是根；无根可达的弱条目被清除
	assert.Equal(t, 1, stats.WeakCleared)
	assert.True(t, h.Contains(strong))
	assert.False(t, h.Contains(weak))
	assert.Nil(t, it.LookupWeak("collectible"))
	assert.Same(t, strong, it.LookupStrong("pinned"))
}

// 活跃事务是根来源：日志里保存的旧引用在堆上已不可达，
// 但回滚还需要它们，回收器必须保活
func TestActiveTransactionKeepsLoggedValuesAlive(t *testing.T) {
	h := heap.NewHeap()
	it := interner.NewInternTable()
	pool := arena.NewPool(4096)
	c := NewCollector(h)
	c.RegisterRootSource(it)
	c.RegisterWeakTable(it)

	rootClass := heap.NewClass("com.example.Init")
	holder := h.AllocObject(rootClass, 1)
	oldRef := h.AllocString("only-in-log")
	h.SetFieldReference(holder, 0, oldRef)

	tx := txn.NewTransaction(false, rootClass, nil, pool)
	c.RegisterRootSource(tx)
	keep := &rootSet{roots: []*heap.Object{holder}}
	c.RegisterRootSource(keep)

	tx.RecordWriteFieldReference(holder, 0, holder.FieldReference(0), false)
	h.SetFieldReference(holder, 0, nil)

	c.Collect()
	require.True(t, h.Contains(oldRef))

	tx.Rollback(h, it)
	assert.Same(t, oldRef, holder.FieldReference(0))

	c.UnregisterRootSource(tx)
	tx.Release()
	c.Collect()
	// 回滚已把旧引用写回堆，holder依旧可达它
	assert.True(t, h.Contains(oldRef))
}

func TestRolledBackNewObjectsAreCollected(t *testing.T) {
	h := heap.NewHeap()
	it := interner.NewInternTable()
	pool := arena.NewPool(4096)
	c := NewCollector(h)

	rootClass := heap.NewClass("com.example.Init")
	survivor := h.AllocObject(rootClass, 0)
	c.RegisterRootSource(&rootSet{roots: []*heap.Object{survivor}})

	tx := txn.NewTransaction(false, rootClass, nil, pool)
	c.RegisterRootSource(tx)

	created := h.AllocObject(rootClass, 1)
	tx.RecordNewObject(created)
	created.SetFieldInt32(0, 1)

	tx.Rollback(h, it)
	c.UnregisterRootSource(tx)
	tx.Release()

	stats := c.Collect()

	// 事务新建的对象随回滚整体不可达
	assert.False(t, h.Contains(created))
	assert.True(t, h.Contains(survivor))
	assert.GreaterOrEqual(t, stats.Reclaimed, 1)
}

func TestCollectClearsCards(t *testing.T) {
	h := heap.NewHeap()
	c := NewCollector(h)

	klass := heap.NewClass("com.example.Node")
	a := h.AllocObject(klass, 1)
	b := h.AllocObject(klass, 0)
	h.SetFieldReference(a, 0, b)
	require.Equal(t, 1, h.DirtyCards())

	c.RegisterRootSource(&rootSet{roots: []*heap.Object{a}})
	c.Collect()

	assert.Equal(t, 0, h.DirtyCards())
}
