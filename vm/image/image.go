package image

import (
	"os"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/util"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
)

// 应用镜像把提交后的堆与强驻留表固化成一个带标识的二进制文件，
// 供下次启动直接装载。布局：
//
//	magic(4) version(2) uuid(16) payloadLen(4) snappy(payload)
//
// payload为小端序：类表、对象表（头+槽位）、强驻留表（对象下标）。
// 弱驻留条目不进镜像：镜像只承载提交后确定存活的状态
const (
	imageMagic   uint32 = 0x494D5658 // "XVMI"
	imageVersion uint16 = 1

	nilRef uint32 = 0xFFFFFFFF

	objFlagString byte = 1 << 0
)

// Writer 把一个堆与驻留表编码为应用镜像
type Writer struct {
	h  *heap.Heap
	it *interner.InternTable
}

// NewWriter 创建镜像写出器
func NewWriter(h *heap.Heap, it *interner.InternTable) *Writer {
	if h == nil {
		logger.Panicf("image: writer requires a heap")
	}
	return &Writer{h: h, it: it}
}

// Encode 编码镜像，返回完整镜像字节与本次镜像的标识
func (w *Writer) Encode() ([]byte, uuid.UUID, error) {
	id := uuid.New()

	payload, err := w.encodePayload()
	if err != nil {
		return nil, uuid.Nil, errors.Trace(err)
	}
	compressed := snappy.Encode(nil, payload)

	var buf []byte
	buf = util.WriteUB4(buf, imageMagic)
	buf = util.WriteUB2(buf, imageVersion)
	buf = util.WriteBytes(buf, id[:])
	buf = util.WriteUB4(buf, uint32(len(compressed)))
	buf = util.WriteBytes(buf, compressed)

	logger.Debugf("image: encoded %s (%d objects, payload %d -> %d bytes)",
		id, w.h.NumObjects(), len(payload), len(compressed))
	return buf, id, nil
}

// WriteFile 编码并写出镜像文件
func (w *Writer) WriteFile(path string) (uuid.UUID, error) {
	buf, id, err := w.Encode()
	if err != nil {
		return uuid.Nil, errors.Trace(err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return uuid.Nil, errors.Annotatef(err, "image: writing %s", path)
	}
	return id, nil
}

func (w *Writer) encodePayload() ([]byte, error) {
	// 固定对象枚举顺序，类表按首次出现去重
	var objs []*heap.Object
	objIndex := make(map[*heap.Object]uint32)
	w.h.ForEachObject(func(o *heap.Object) bool {
		objIndex[o] = uint32(len(objs))
		objs = append(objs, o)
		return true
	})

	var classes []*heap.Class
	classIndex := make(map[*heap.Class]uint32)
	for _, o := range objs {
		if _, ok := classIndex[o.Class()]; !ok {
			classIndex[o.Class()] = uint32(len(classes))
			classes = append(classes, o.Class())
		}
	}

	var buf []byte

	buf = util.WriteUB4(buf, uint32(len(classes)))
	for _, c := range classes {
		buf = util.WriteStringWithLength(buf, c.Name())
		if c.IsArrayClass() {
			buf = util.WriteByte(buf, 1)
		} else {
			buf = util.WriteByte(buf, 0)
		}
		buf = util.WriteByte(buf, byte(c.ElemKind()))
	}

	buf = util.WriteUB4(buf, uint32(len(objs)))
	for _, o := range objs {
		buf = util.WriteUB4(buf, classIndex[o.Class()])
		if o.Class() == w.h.StringClass() {
			buf = util.WriteByte(buf, objFlagString)
			buf = util.WriteStringWithLength(buf, o.UTF())
			continue
		}
		buf = util.WriteByte(buf, 0)
		buf = util.WriteUB4(buf, uint32(o.Len()))
		for i := 0; i < o.Len(); i++ {
			var bits uint64
			ref := nilRef
			if o.IsArray() && o.Class().ElemKind() == heap.KindReference {
				if r := o.ElemReference(i); r != nil {
					ref = objIndex[r]
				}
			} else if o.IsArray() {
				bits = o.ElemBits(i)
			} else {
				off := heap.MemberOffset(i)
				if r := o.FieldReference(off); r != nil {
					ref = objIndex[r]
				} else {
					bits = o.FieldBits(off)
				}
			}
			buf = util.WriteUB8(buf, bits)
			buf = util.WriteUB4(buf, ref)
		}
	}

	var strong []uint32
	if w.it != nil {
		w.it.VisitRoots(func(o *heap.Object) *heap.Object {
			idx, ok := objIndex[o]
			if !ok {
				logger.Panicf("image: interned string %q not registered in heap", o.UTF())
			}
			strong = append(strong, idx)
			return o
		})
	}
	buf = util.WriteUB4(buf, uint32(len(strong)))
	for _, idx := range strong {
		buf = util.WriteUB4(buf, idx)
	}

	return buf, nil
}

// Image 装载后的应用镜像
type Image struct {
	ID      uuid.UUID
	Version uint16

	Heap     *heap.Heap
	Interner *interner.InternTable

	// 镜像内对象的枚举顺序，下标与编码时一致
	Objects []*heap.Object
}

// Read 从镜像字节装载堆与驻留表
func Read(data []byte) (*Image, error) {
	if len(data) < 26 {
		return nil, errors.Errorf("image: truncated header (%d bytes)", len(data))
	}
	cursor := 0
	cursor, magic := util.ReadUB4(data, cursor)
	if magic != imageMagic {
		return nil, errors.Errorf("image: bad magic 0x%08X", magic)
	}
	cursor, version := util.ReadUB2(data, cursor)
	if version > imageVersion {
		return nil, errors.Errorf("image: unsupported version %d", version)
	}
	cursor, rawID := util.ReadBytes(data, cursor, 16)
	id, err := uuid.FromBytes(rawID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cursor, payloadLen := util.ReadUB4(data, cursor)
	if cursor+int(payloadLen) > len(data) {
		return nil, errors.Errorf("image: truncated payload (want %d bytes, have %d)",
			payloadLen, len(data)-cursor)
	}
	_, compressed := util.ReadBytes(data, cursor, int(payloadLen))

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Annotate(err, "image: decompressing payload")
	}

	img, err := decodePayload(payload)
	if err != nil {
		return nil, errors.Trace(err)
	}
	img.ID = id
	img.Version = version
	logger.Debugf("image: loaded %s (%d objects)", id, len(img.Objects))
	return img, nil
}

// ReadFile 从镜像文件装载
func ReadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "image: reading %s", path)
	}
	return Read(data)
}

type objRecord struct {
	classIdx uint32
	flags    byte
	utf      string
	bits     []uint64
	refs     []uint32
}

func decodePayload(payload []byte) (*Image, error) {
	h := heap.NewHeap()
	it := interner.NewInternTable()
	cursor := 0

	cursor, numClasses := util.ReadUB4(payload, cursor)
	classes := make([]*heap.Class, 0, numClasses)
	for i := uint32(0); i < numClasses; i++ {
		var name string
		var isArray, elem byte
		cursor, name = util.ReadStringWithLength(payload, cursor)
		cursor, isArray = util.ReadByte(payload, cursor)
		cursor, elem = util.ReadByte(payload, cursor)
		if isArray != 0 {
			classes = append(classes, heap.NewArrayClass(name, heap.Kind(elem)))
		} else {
			classes = append(classes, heap.NewClass(name))
		}
	}

	cursor, numObjs := util.ReadUB4(payload, cursor)
	records := make([]objRecord, numObjs)
	for i := range records {
		r := &records[i]
		cursor, r.classIdx = util.ReadUB4(payload, cursor)
		if int(r.classIdx) >= len(classes) {
			return nil, errors.Errorf("image: object %d references class %d of %d", i, r.classIdx, len(classes))
		}
		cursor, r.flags = util.ReadByte(payload, cursor)
		if r.flags&objFlagString != 0 {
			cursor, r.utf = util.ReadStringWithLength(payload, cursor)
			continue
		}
		var numSlots uint32
		cursor, numSlots = util.ReadUB4(payload, cursor)
		r.bits = make([]uint64, numSlots)
		r.refs = make([]uint32, numSlots)
		for j := uint32(0); j < numSlots; j++ {
			cursor, r.bits[j] = util.ReadUB8(payload, cursor)
			cursor, r.refs[j] = util.ReadUB4(payload, cursor)
		}
	}

	// 第一遍分配，第二遍接线引用
	objs := make([]*heap.Object, numObjs)
	for i := range records {
		r := &records[i]
		klass := classes[r.classIdx]
		switch {
		case r.flags&objFlagString != 0:
			objs[i] = h.AllocString(r.utf)
		case klass.IsArrayClass():
			objs[i] = h.AllocArray(klass, len(r.bits))
		default:
			objs[i] = h.AllocObject(klass, len(r.bits))
		}
	}
	for i := range records {
		r := &records[i]
		if r.flags&objFlagString != 0 {
			continue
		}
		o := objs[i]
		for j := range r.bits {
			ref := r.refs[j]
			if ref != nilRef {
				if int(ref) >= len(objs) {
					return nil, errors.Errorf("image: object %d slot %d references object %d of %d", i, j, ref, numObjs)
				}
				if o.IsArray() {
					o.SetElemReference(j, objs[ref])
				} else {
					o.SetFieldReference(heap.MemberOffset(j), objs[ref])
				}
				continue
			}
			if o.IsArray() {
				if o.Class().ElemKind() != heap.KindReference {
					o.SetElemBits(j, r.bits[j])
				}
			} else {
				o.SetFieldBits(heap.MemberOffset(j), r.bits[j])
			}
		}
	}

	cursor, numStrong := util.ReadUB4(payload, cursor)
	for i := uint32(0); i < numStrong; i++ {
		var idx uint32
		cursor, idx = util.ReadUB4(payload, cursor)
		if int(idx) >= len(objs) {
			return nil, errors.Errorf("image: intern entry references object %d of %d", idx, numObjs)
		}
		it.InsertStrong(objs[idx])
	}

	return &Image{Heap: h, Interner: it, Objects: objs}, nil
}
