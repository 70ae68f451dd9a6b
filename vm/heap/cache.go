package heap

import (
	"github.com/zhukovaskychina/xvm-runtime/logger"
)

// ConstantCache 每个类文件的常量解析缓存
// 字符串槽位与方法类型槽位从"未解析"（nil）出发，解析后填入堆对象；
// 回滚把槽位重置回未解析哨兵
type ConstantCache struct {
	owner       *Class
	strings     []*Object
	methodTypes []*Object
}

// NewConstantCache 创建常量缓存
func NewConstantCache(owner *Class, numStrings, numMethodTypes int) *ConstantCache {
	return &ConstantCache{
		owner:       owner,
		strings:     make([]*Object, numStrings),
		methodTypes: make([]*Object, numMethodTypes),
	}
}

// Owner 返回缓存所属的类
func (c *ConstantCache) Owner() *Class {
	return c.owner
}

// NumStringSlots 返回字符串槽位数
func (c *ConstantCache) NumStringSlots() int {
	return len(c.strings)
}

// NumMethodTypeSlots 返回方法类型槽位数
func (c *ConstantCache) NumMethodTypeSlots() int {
	return len(c.methodTypes)
}

func (c *ConstantCache) checkStringSlot(slot int) {
	if slot < 0 || slot >= len(c.strings) {
		logger.Panicf("heap: string slot %d out of range for %s", slot, c.owner.Name())
	}
}

func (c *ConstantCache) checkMethodTypeSlot(slot int) {
	if slot < 0 || slot >= len(c.methodTypes) {
		logger.Panicf("heap: method type slot %d out of range for %s", slot, c.owner.Name())
	}
}

// ResolvedString 返回槽位上已解析的字符串对象，未解析为nil
func (c *ConstantCache) ResolvedString(slot int) *Object {
	c.checkStringSlot(slot)
	return c.strings[slot]
}

// SetResolvedString 记录槽位解析结果
func (c *ConstantCache) SetResolvedString(slot int, s *Object) {
	c.checkStringSlot(slot)
	c.strings[slot] = s
}

// ClearResolvedString 把槽位重置为未解析
func (c *ConstantCache) ClearResolvedString(slot int) {
	c.checkStringSlot(slot)
	c.strings[slot] = nil
}

// ResolvedMethodType 返回槽位上已解析的方法类型对象，未解析为nil
func (c *ConstantCache) ResolvedMethodType(slot int) *Object {
	c.checkMethodTypeSlot(slot)
	return c.methodTypes[slot]
}

// SetResolvedMethodType 记录槽位解析结果
func (c *ConstantCache) SetResolvedMethodType(slot int, mt *Object) {
	c.checkMethodTypeSlot(slot)
	c.methodTypes[slot] = mt
}

// ClearResolvedMethodType 把槽位重置为未解析
func (c *ConstantCache) ClearResolvedMethodType(slot int) {
	c.checkMethodTypeSlot(slot)
	c.methodTypes[slot] = nil
}
