package heap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvm-runtime/util"
)

func TestAllocAndFieldAccess(t *testing.T) {
	h := NewHeap()
	klass := NewClass("com.example.Config")

	t.Run("标量字段", func(t *testing.T) {
		obj := h.AllocObject(klass, 4)
		require.True(t, h.Contains(obj))

		obj.SetFieldInt32(0, -42)
		obj.SetFieldInt64(1, math.MinInt64)
		obj.SetFieldBool(2, true)

		assert.Equal(t, int32(-42), obj.FieldInt32(0))
		assert.Equal(t, int64(math.MinInt64), obj.FieldInt64(1))
		assert.True(t, obj.FieldBool(2))
	})

	t.Run("引用字段与写屏障", func(t *testing.T) {
		h.ClearCards()
		holder := h.AllocObject(klass, 1)
		target := h.AllocString("hello")

		h.SetFieldReference(holder, 0, target)
		assert.Same(t, target, holder.FieldReference(0))
		assert.Equal(t, 1, h.DirtyCards())
	})

	t.Run("越界访问是致命错误", func(t *testing.T) {
		obj := h.AllocObject(klass, 1)
		assert.Panics(t, func() { obj.FieldBits(5) })
	})
}

func TestArrayAccess(t *testing.T) {
	h := NewHeap()

	t.Run("窄类型截断", func(t *testing.T) {
		arr := h.AllocArray(NewArrayClass("byte[]", KindByte), 3)
		arr.SetElemBits(0, 0xFFFFFF80)
		assert.Equal(t, uint64(0x80), arr.ElemBits(0))

		carr := h.AllocArray(NewArrayClass("char[]", KindChar), 1)
		carr.SetElemBits(0, 0xDEAD1234)
		assert.Equal(t, uint64(0x1234), carr.ElemBits(0))
	})

	t.Run("浮点位模式保真", func(t *testing.T) {
		arr := h.AllocArray(NewArrayClass("double[]", KindDouble), 1)
		raw := util.Float64ToRaw(math.Inf(-1))
		arr.SetElemBits(0, raw)
		assert.Equal(t, raw, arr.ElemBits(0))
	})

	t.Run("引用数组", func(t *testing.T) {
		arr := h.AllocArray(NewArrayClass("java.lang.String[]", KindReference), 2)
		s := h.AllocString("interned")
		h.SetElemReference(arr, 1, s)
		assert.Same(t, s, arr.ElemReference(1))
		assert.Nil(t, arr.ElemReference(0))

		assert.Panics(t, func() { arr.SetElemBits(0, 1) })
	})

	t.Run("类身份不可变", func(t *testing.T) {
		klass := NewArrayClass("int[]", KindInt)
		arr := h.AllocArray(klass, 1)
		assert.Same(t, klass, arr.Class())
		assert.Equal(t, KindInt, arr.Class().ElemKind())
	})
}

func TestSweep(t *testing.T) {
	h := NewHeap()
	klass := NewClass("com.example.Temp")

	keep := h.AllocObject(klass, 0)
	drop := h.AllocObject(klass, 0)

	h.MutatorLatch().Lock()
	reclaimed := h.Sweep(func(o *Object) bool { return o == keep })
	h.MutatorLatch().Unlock()

	assert.Equal(t, 1, reclaimed)
	assert.True(t, h.Contains(keep))
	assert.False(t, h.Contains(drop))
}

func TestConstantCache(t *testing.T) {
	h := NewHeap()
	owner := NewClass("com.example.Init")
	cache := NewConstantCache(owner, 4, 2)

	s := h.AllocString("const")
	cache.SetResolvedString(1, s)
	assert.Same(t, s, cache.ResolvedString(1))
	assert.Nil(t, cache.ResolvedString(0))

	cache.ClearResolvedString(1)
	assert.Nil(t, cache.ResolvedString(1))

	mt := h.AllocObject(NewClass("java.lang.invoke.MethodType"), 0)
	cache.SetResolvedMethodType(0, mt)
	assert.Same(t, mt, cache.ResolvedMethodType(0))
	cache.ClearResolvedMethodType(0)
	assert.Nil(t, cache.ResolvedMethodType(0))

	assert.Panics(t, func() { cache.ResolvedString(10) })
}
