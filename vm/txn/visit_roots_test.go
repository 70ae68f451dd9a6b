package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
)

// 根扫描必须把五类日志持有的引用各暴露恰好一次，不多不少
func TestVisitRootsCoversAllLogKinds(t *testing.T) {
	h, _, pool := newTestEnv()
	rootClass := heap.NewClass("com.example.Init")

	tx := NewTransaction(false, rootClass, nil, pool)
	defer tx.Release()

	// 字段日志：被记录的对象本身 + 日志里保存的旧引用
	holder := h.AllocObject(rootClass, 2)
	oldField := h.AllocString("old-field")
	h.SetFieldReference(holder, 0, oldField)
	tx.RecordWriteFieldReference(holder, 0, holder.FieldReference(0), false)
	h.SetFieldReference(holder, 0, nil)
	tx.RecordWriteField32(holder, 1, 42, false)

	// 数组日志
	arr := h.AllocArray(heap.NewArrayClass("java.lang.Object[]", heap.KindReference), 2)
	oldElem := h.AllocString("old-elem")
	h.SetElemReference(arr, 0, oldElem)
	tx.RecordWriteArrayReference(arr, 0, arr.ElemReference(0))
	h.SetElemReference(arr, 0, nil)

	// 驻留日志
	interned := h.AllocString("interned")
	tx.RecordStrongStringInsertion(interned)

	// 解析日志：暴露槽位上当前已解析的对象
	cache := heap.NewConstantCache(rootClass, 2, 2)
	resolvedStr := h.AllocString("resolved-str")
	cache.SetResolvedString(0, resolvedStr)
	tx.RecordResolveString(cache, 0)
	resolvedMT := h.AllocObject(heap.NewClass("java.lang.invoke.MethodType"), 0)
	cache.SetResolvedMethodType(1, resolvedMT)
	tx.RecordResolveMethodType(cache, 1)

	seen := make(map[*heap.Object]int)
	tx.VisitRoots(func(o *heap.Object) *heap.Object {
		seen[o]++
		return o
	})

	expected := []*heap.Object{holder, oldField, arr, oldElem, interned, resolvedStr, resolvedMT}
	require.Len(t, seen, len(expected))
	for _, o := range expected {
		assert.Equal(t, 1, seen[o], "引用 %p 应该恰好被访问一次", o)
	}
}

// 访问器返回新地址时日志写回，后续扫描看到的是新地址
func TestVisitRootsWritesBackMovedReferences(t *testing.T) {
	h, it, pool := newTestEnv()
	rootClass := heap.NewClass("com.example.Init")

	tx := NewTransaction(false, rootClass, nil, pool)
	defer tx.Release()

	holder := h.AllocObject(rootClass, 1)
	oldRef := h.AllocString("movable")
	h.SetFieldReference(holder, 0, oldRef)
	tx.RecordWriteFieldReference(holder, 0, holder.FieldReference(0), false)
	h.SetFieldReference(holder, 0, nil)

	movedHolder := h.AllocObject(rootClass, 1)
	movedRef := h.AllocString("movable")
	tx.VisitRoots(func(o *heap.Object) *heap.Object {
		switch o {
		case holder:
			return movedHolder
		case oldRef:
			return movedRef
		}
		return o
	})

	seen := make(map[*heap.Object]int)
	tx.VisitRoots(func(o *heap.Object) *heap.Object {
		seen[o]++
		return o
	})
	assert.Equal(t, 1, seen[movedHolder])
	assert.Equal(t, 1, seen[movedRef])
	assert.Zero(t, seen[holder])
	assert.Zero(t, seen[oldRef])

	// 写回后的日志依旧能回滚，恢复到移动后的旧引用
	tx.Rollback(h, it)
	assert.Same(t, movedRef, movedHolder.FieldReference(0))
}

func TestVisitRootsSkipsScalarLogs(t *testing.T) {
	h, _, pool := newTestEnv()
	rootClass := heap.NewClass("com.example.Init")

	tx := NewTransaction(false, rootClass, nil, pool)
	defer tx.Release()

	obj := h.AllocObject(rootClass, 3)
	tx.RecordWriteField32(obj, 0, 1, false)
	tx.RecordWriteField64(obj, 1, 2, false)
	tx.RecordWriteFieldBool(obj, 2, true, false)

	arr := h.AllocArray(heap.NewArrayClass("int[]", heap.KindInt), 1)
	tx.RecordWriteArray(arr, 0, 9)

	var visited []*heap.Object
	tx.VisitRoots(func(o *heap.Object) *heap.Object {
		visited = append(visited, o)
		return o
	})

	// 标量原值不是引用；暴露的只有日志表键本身
	assert.ElementsMatch(t, []*heap.Object{obj, arr}, visited)
}
