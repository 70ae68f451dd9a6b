package txn

import (
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
)

// resolveStringLog 单个常量缓存字符串槽位的解析记录
// 回滚把槽位重置回未解析哨兵
type resolveStringLog struct {
	cache *heap.ConstantCache
	slot  int
}

func (l *resolveStringLog) undo() {
	l.cache.ClearResolvedString(l.slot)
}

// visitRoots 暴露槽位上当前已解析的对象
func (l *resolveStringLog) visitRoots(visit func(*heap.Object) *heap.Object) {
	if cur := l.cache.ResolvedString(l.slot); cur != nil {
		if moved := visit(cur); moved != cur {
			l.cache.SetResolvedString(l.slot, moved)
		}
	}
}

// resolveMethodTypeLog 单个常量缓存方法类型槽位的解析记录
type resolveMethodTypeLog struct {
	cache *heap.ConstantCache
	slot  int
}

func (l *resolveMethodTypeLog) undo() {
	l.cache.ClearResolvedMethodType(l.slot)
}

func (l *resolveMethodTypeLog) visitRoots(visit func(*heap.Object) *heap.Object) {
	if cur := l.cache.ResolvedMethodType(l.slot); cur != nil {
		if moved := visit(cur); moved != cur {
			l.cache.SetResolvedMethodType(l.slot, moved)
		}
	}
}
