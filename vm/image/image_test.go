package image

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
)

func buildSampleHeap(t *testing.T) (*heap.Heap, *interner.InternTable, *heap.Object) {
	t.Helper()
	h := heap.NewHeap()
	it := interner.NewInternTable()

	klass := heap.NewClass("com.example.Config")
	root := h.AllocObject(klass, 3)
	root.SetFieldInt32(0, -42)
	root.SetFieldInt64(1, 1<<40)
	h.SetFieldReference(root, 2, it.InternStrong(h, "app.name"))

	arr := h.AllocArray(heap.NewArrayClass("long[]", heap.KindLong), 2)
	arr.SetElemBits(0, 0xDEADBEEF)
	arr.SetElemBits(1, ^uint64(0))

	refs := h.AllocArray(heap.NewArrayClass("java.lang.String[]", heap.KindReference), 2)
	h.SetElemReference(refs, 0, it.InternStrong(h, "first"))

	it.InternStrong(h, "unreferenced-but-pinned")
	return h, it, root
}

func TestImageRoundTrip(t *testing.T) {
	h, it, _ := buildSampleHeap(t)

	buf, id, err := NewWriter(h, it).Encode()
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	img, err := Read(buf)
	require.NoError(t, err)

	assert.Equal(t, id, img.ID)
	assert.Equal(t, imageVersion, img.Version)
	assert.Equal(t, h.NumObjects(), img.Heap.NumObjects())
	assert.Equal(t, it.StrongSize(), img.Interner.StrongSize())

	t.Run("标量位模式逐位还原", func(t *testing.T) {
		var root, arr *heap.Object
		for _, o := range img.Objects {
			switch o.Class().Name() {
			case "com.example.Config":
				root = o
			case "long[]":
				arr = o
			}
		}
		require.NotNil(t, root)
		require.NotNil(t, arr)

		assert.Equal(t, int32(-42), root.FieldInt32(0))
		assert.Equal(t, int64(1<<40), root.FieldInt64(1))
		assert.Equal(t, uint64(0xDEADBEEF), arr.ElemBits(0))
		assert.Equal(t, ^uint64(0), arr.ElemBits(1))
	})

	t.Run("引用按下标重新接线", func(t *testing.T) {
		var root, refs *heap.Object
		for _, o := range img.Objects {
			switch o.Class().Name() {
			case "com.example.Config":
				root = o
			case "java.lang.String[]":
				refs = o
			}
		}
		require.NotNil(t, root)
		require.NotNil(t, refs)

		name := root.FieldReference(2)
		require.NotNil(t, name)
		assert.Equal(t, "app.name", name.UTF())
		// 装载后的引用指向装载后的堆对象
		assert.True(t, img.Heap.Contains(name))

		require.NotNil(t, refs.ElemReference(0))
		assert.Equal(t, "first", refs.ElemReference(0).UTF())
		assert.Nil(t, refs.ElemReference(1))
	})

	t.Run("强驻留表按内容可查", func(t *testing.T) {
		for _, s := range []string{"app.name", "first", "unreferenced-but-pinned"} {
			obj := img.Interner.LookupStrong(s)
			require.NotNil(t, obj, "缺少强驻留条目 %q", s)
			assert.Equal(t, s, obj.UTF())
		}
	})
}

func TestImageFileRoundTrip(t *testing.T) {
	h, it, _ := buildSampleHeap(t)
	path := filepath.Join(t.TempDir(), "app.xvmi")

	id, err := NewWriter(h, it).WriteFile(path)
	require.NoError(t, err)

	img, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, id, img.ID)
	assert.Equal(t, h.NumObjects(), img.Heap.NumObjects())
}

func TestReadRejectsCorruptImages(t *testing.T) {
	h, it, _ := buildSampleHeap(t)
	buf, _, err := NewWriter(h, it).Encode()
	require.NoError(t, err)

	t.Run("截断头部", func(t *testing.T) {
		_, err := Read(buf[:10])
		assert.Error(t, err)
	})

	t.Run("错误魔数", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		bad[0] ^= 0xFF
		_, err := Read(bad)
		assert.ErrorContains(t, err, "bad magic")
	})

	t.Run("未来版本", func(t *testing.T) {
		bad := append([]byte(nil), buf...)
		bad[4] = 0xFF
		_, err := Read(bad)
		assert.ErrorContains(t, err, "unsupported version")
	})

	t.Run("截断负载", func(t *testing.T) {
		_, err := Read(buf[:len(buf)-5])
		assert.ErrorContains(t, err, "truncated payload")
	})
}

func TestEmptyHeapImage(t *testing.T) {
	h := heap.NewHeap()
	buf, _, err := NewWriter(h, nil).Encode()
	require.NoError(t, err)

	img, err := Read(buf)
	require.NoError(t, err)
	assert.Zero(t, img.Heap.NumObjects())
	assert.Empty(t, img.Objects)
	assert.Zero(t, img.Interner.StrongSize())
}
