package heap

// Kind 槽位值的运行时类型标签
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindByte
	KindChar
	KindShort
	KindInt
	KindFloat
	KindLong
	KindDouble
	KindReference
)

// String 实现 fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindByte:
		return "byte"
	case KindChar:
		return "char"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindReference:
		return "reference"
	default:
		return "none"
	}
}

// Is64Bit 返回该类型是否占用完整64位
func (k Kind) Is64Bit() bool {
	return k == KindLong || k == KindDouble
}

// MemberOffset 对象内字段槽位的偏移
type MemberOffset uint32

// Class 运行时类
// 类身份在分配后不可变：数组的元素类型在回滚时从类指针现取，
// 这依赖类指针在日志记录与回滚之间不会改变
type Class struct {
	name string
	elem Kind // 数组类的元素类型，非数组类为KindNone
}

// NewClass 创建一个普通类
func NewClass(name string) *Class {
	return &Class{name: name}
}

// NewArrayClass 创建一个数组类
func NewArrayClass(name string, elem Kind) *Class {
	return &Class{name: name, elem: elem}
}

// Name 返回类的全限定名
func (c *Class) Name() string {
	return c.name
}

// IsArrayClass 返回是否为数组类
func (c *Class) IsArrayClass() bool {
	return c.elem != KindNone
}

// ElemKind 返回数组类的元素类型
func (c *Class) ElemKind() Kind {
	return c.elem
}
