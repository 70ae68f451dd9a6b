package heap

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/util"
)

// Slot 一个字段或数组元素槽位
// 标量一律按64位原始位模式存放；引用单独放在GC可见的指针里
type Slot struct {
	bits uint64
	ref  *Object
}

// Object 托管堆对象
// 普通对象的slots是字段槽位，数组对象的slots是元素槽位
type Object struct {
	klass *Class
	slots []Slot
	utf   string // 字符串对象的内容
}

// Class 返回对象的类，分配后不可变
func (o *Object) Class() *Class {
	return o.klass
}

// IsArray 返回对象是否为数组
func (o *Object) IsArray() bool {
	return o.klass.IsArrayClass()
}

// Len 返回数组长度或字段槽位数
func (o *Object) Len() int {
	return len(o.slots)
}

// UTF 返回字符串对象的内容
func (o *Object) UTF() string {
	return o.utf
}

func (o *Object) checkField(off MemberOffset) {
	if o.IsArray() {
		logger.Panicf("heap: field access on array object %s", o.klass.Name())
	}
	if int(off) >= len(o.slots) {
		logger.Panicf("heap: field offset %d out of range for %s (len %d)", off, o.klass.Name(), len(o.slots))
	}
}

func (o *Object) checkElem(i int) {
	if !o.IsArray() {
		logger.Panicf("heap: element access on non-array object %s", o.klass.Name())
	}
	if i < 0 || i >= len(o.slots) {
		logger.Panicf("heap: index %d out of range for %s (len %d)", i, o.klass.Name(), len(o.slots))
	}
}

// FieldBits 读取字段槽位的原始64位位模式
func (o *Object) FieldBits(off MemberOffset) uint64 {
	o.checkField(off)
	return o.slots[off].bits
}

// SetFieldBits 写入字段槽位的原始64位位模式
func (o *Object) SetFieldBits(off MemberOffset, bits uint64) {
	o.checkField(off)
	o.slots[off].bits = bits
	o.slots[off].ref = nil
}

// FieldReference 读取引用字段
func (o *Object) FieldReference(off MemberOffset) *Object {
	o.checkField(off)
	return o.slots[off].ref
}

// SetFieldReference 写入引用字段（无屏障，屏障由Heap负责）
func (o *Object) SetFieldReference(off MemberOffset, ref *Object) {
	o.checkField(off)
	o.slots[off].ref = ref
	o.slots[off].bits = 0
}

// FieldBool 读取bool字段
func (o *Object) FieldBool(off MemberOffset) bool {
	return util.RawToBool(o.FieldBits(off))
}

// SetFieldBool 写入bool字段
func (o *Object) SetFieldBool(off MemberOffset, v bool) {
	o.SetFieldBits(off, util.BoolToRaw(v))
}

// FieldInt32 读取32位字段
func (o *Object) FieldInt32(off MemberOffset) int32 {
	return int32(util.RawToUint32(o.FieldBits(off)))
}

// SetFieldInt32 写入32位字段
func (o *Object) SetFieldInt32(off MemberOffset, v int32) {
	o.SetFieldBits(off, util.Uint32ToRaw(uint32(v)))
}

// FieldInt64 读取64位字段
func (o *Object) FieldInt64(off MemberOffset) int64 {
	return int64(o.FieldBits(off))
}

// SetFieldInt64 写入64位字段
func (o *Object) SetFieldInt64(off MemberOffset, v int64) {
	o.SetFieldBits(off, uint64(v))
}

// ElemBits 读取数组元素的原始64位位模式
func (o *Object) ElemBits(i int) uint64 {
	o.checkElem(i)
	return o.slots[i].bits
}

// SetElemBits 写入数组元素的原始位模式，按元素类型截断到其位宽
func (o *Object) SetElemBits(i int, bits uint64) {
	o.checkElem(i)
	switch o.klass.ElemKind() {
	case KindBool, KindByte:
		bits &= 0xFF
	case KindChar, KindShort:
		bits &= 0xFFFF
	case KindInt, KindFloat:
		bits &= 0xFFFFFFFF
	case KindReference:
		logger.Panicf("heap: raw element store into reference array %s", o.klass.Name())
	}
	o.slots[i].bits = bits
}

// ElemReference 读取引用数组元素
func (o *Object) ElemReference(i int) *Object {
	o.checkElem(i)
	return o.slots[i].ref
}

// SetElemReference 写入引用数组元素（无屏障，屏障由Heap负责）
func (o *Object) SetElemReference(i int, ref *Object) {
	o.checkElem(i)
	if o.klass.ElemKind() != KindReference {
		logger.Panicf("heap: reference store into primitive array %s", o.klass.Name())
	}
	o.slots[i].ref = ref
}

// VisitReferences 遍历对象持有的全部非nil引用，供回收器追踪
func (o *Object) VisitReferences(fn func(*Object)) {
	for i := range o.slots {
		if o.slots[i].ref != nil {
			fn(o.slots[i].ref)
		}
	}
}
