package txn

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/zhukovaskychina/xvm-runtime/logger"
	"github.com/zhukovaskychina/xvm-runtime/util"
	"github.com/zhukovaskychina/xvm-runtime/vm/arena"
	"github.com/zhukovaskychina/xvm-runtime/vm/heap"
	"github.com/zhukovaskychina/xvm-runtime/vm/interner"
)

// Transaction 静态初始化器推演执行的堆变更日志
//
// 编译器在事务内运行类初始化代码，观察其效果后提交（日志直接废弃）
// 或中止（Rollback按日志恢复事务前状态）。事务是单线程的：
// 记录与回滚都必须发生在开启事务的线程上，rollingBack等标志不做并发保护。
// 回收器随时可能运行，日志持有的堆引用通过VisitRoots暴露给根扫描
type Transaction struct {
	strict    bool
	rootClass *heap.Class

	aborted      bool
	rollingBack  bool
	abortMessage string

	pool      *arena.Pool
	stack     *arena.Stack
	ownsStack bool
	released  bool

	// 仅作查询加速的非拥有缓存，不参与根扫描
	lastAllocated *heap.Object

	fieldSlab    *arena.Slab[fieldValue]
	arrValSlab   *arena.Slab[arrayValue]
	objLogSlab   *arena.Slab[ObjectLog]
	arrLogSlab   *arena.Slab[ArrayLog]
	internSlab   *arena.Slab[internStringLog]
	resStrSlab   *arena.Slab[resolveStringLog]
	resMTypeSlab *arena.Slab[resolveMethodTypeLog]

	objectLogs  map[*heap.Object]*ObjectLog
	objectOrder []*heap.Object
	arrayLogs   map[*heap.Object]*ArrayLog
	arrayOrder  []*heap.Object

	internLogs      []*internStringLog
	resolveStrLogs  []*resolveStringLog
	resolveMTLogs   []*resolveMethodTypeLog
	forbidNewCount  int
	forbidNewReason string
}

// NewTransaction 开启一个事务
// 最外层事务从池里借出自己的arena栈；嵌套事务传入外层的栈共用，
// 全部嵌套日志因此共享同一片批量释放的内存
func NewTransaction(strict bool, rootClass *heap.Class, stack *arena.Stack, pool *arena.Pool) *Transaction {
	owns := false
	if stack == nil {
		if pool == nil {
			logger.Panicf("txn: outermost transaction requires an arena pool")
		}
		stack = pool.AcquireStack()
		owns = true
	}

	t := &Transaction{
		strict:    strict,
		rootClass: rootClass,
		pool:      pool,
		stack:     stack,
		ownsStack: owns,
	}
	t.fieldSlab = arena.NewSlab[fieldValue](stack, 128)
	t.arrValSlab = arena.NewSlab[arrayValue](stack, 128)
	t.objLogSlab = arena.NewSlab[ObjectLog](stack, 32)
	t.arrLogSlab = arena.NewSlab[ArrayLog](stack, 32)
	t.internSlab = arena.NewSlab[internStringLog](stack, 32)
	t.resStrSlab = arena.NewSlab[resolveStringLog](stack, 32)
	t.resMTypeSlab = arena.NewSlab[resolveMethodTypeLog](stack, 32)
	t.objectLogs = make(map[*heap.Object]*ObjectLog)
	t.arrayLogs = make(map[*heap.Object]*ArrayLog)
	return t
}

// Release 销毁事务
// 最外层事务把arena栈整体归还，所有日志节点随之一次性失效
func (t *Transaction) Release() {
	if t.released {
		logger.Panicf("txn: transaction released twice")
	}
	t.released = true
	t.objectLogs = nil
	t.objectOrder = nil
	t.arrayLogs = nil
	t.arrayOrder = nil
	t.internLogs = nil
	t.resolveStrLogs = nil
	t.resolveMTLogs = nil
	t.lastAllocated = nil
	if t.ownsStack {
		t.pool.ReleaseStack(t.stack)
	}
}

// IsStrict 返回是否为严格模式事务
func (t *Transaction) IsStrict() bool {
	return t.strict
}

// IsAborted 返回事务是否已中止
func (t *Transaction) IsAborted() bool {
	return t.aborted
}

// IsRollingBack 返回是否正在回滚
func (t *Transaction) IsRollingBack() bool {
	return t.rollingBack
}

// RootClass 返回开启本事务的类
func (t *Transaction) RootClass() *heap.Class {
	return t.rootClass
}

// AbortMessage 返回中止消息
func (t *Transaction) AbortMessage() string {
	return t.abortMessage
}

// ArenaStack 返回本事务使用的arena栈，供嵌套事务共用
func (t *Transaction) ArenaStack() *arena.Stack {
	return t.stack
}

// Abort 中止事务
// 多次Abort时消息后写覆盖先写（沿用既有语义，见DESIGN.md）
func (t *Transaction) Abort(message string) *AbortError {
	t.aborted = true
	t.abortMessage = message
	return &AbortError{Message: message}
}

// ThrowAbortError 记录违规信息并中止事务，返回语言层的初始化错误
func (t *Transaction) ThrowAbortError(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	logger.Errorf("txn: aborting transaction of %s: %s", t.rootClassName(), msg)
	return errors.Trace(t.Abort(msg))
}

func (t *Transaction) rootClassName() string {
	if t.rootClass == nil {
		return "<no root>"
	}
	return t.rootClass.Name()
}

func (t *Transaction) assertRecordsAllowed(what string) {
	if t.forbidNewCount > 0 {
		logger.Panicf("txn: new %s record while forbidden (%s)", what, t.forbidNewReason)
	}
}

func (t *Transaction) getOrCreateObjectLog(obj *heap.Object) *ObjectLog {
	if log, ok := t.objectLogs[obj]; ok {
		return log
	}
	log := t.objLogSlab.New()
	log.init(t.fieldSlab)
	t.objectLogs[obj] = log
	t.objectOrder = append(t.objectOrder, obj)
	return log
}

func (t *Transaction) getOrCreateArrayLog(arr *heap.Object) *ArrayLog {
	if log, ok := t.arrayLogs[arr]; ok {
		return log
	}
	log := t.arrLogSlab.New()
	log.init(t.arrValSlab)
	t.arrayLogs[arr] = log
	t.arrayOrder = append(t.arrayOrder, arr)
	return log
}

func (t *Transaction) recordFieldWrite(obj *heap.Object, off heap.MemberOffset, kind heap.Kind, raw uint64, ref *heap.Object, volatile bool) {
	if t.rollingBack {
		// 回滚的写回不再产生日志
		return
	}
	t.assertRecordsAllowed("field")
	if obj == nil {
		logger.Panicf("txn: field write record on nil object")
	}
	log := t.getOrCreateObjectLog(obj)
	if log.isNew {
		// 新对象整体消失，无需逐字段还原
		return
	}
	log.log(off, kind, raw, ref, volatile)
}

// RecordWriteFieldBool 记录bool字段覆写前的原值
func (t *Transaction) RecordWriteFieldBool(obj *heap.Object, off heap.MemberOffset, oldValue bool, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindBool, util.BoolToRaw(oldValue), nil, isVolatile)
}

// RecordWriteFieldByte 记录byte字段覆写前的原值
func (t *Transaction) RecordWriteFieldByte(obj *heap.Object, off heap.MemberOffset, oldValue int8, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindByte, util.Int8ToRaw(oldValue), nil, isVolatile)
}

// RecordWriteFieldChar 记录char字段覆写前的原值
func (t *Transaction) RecordWriteFieldChar(obj *heap.Object, off heap.MemberOffset, oldValue uint16, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindChar, util.Uint16ToRaw(oldValue), nil, isVolatile)
}

// RecordWriteFieldShort 记录short字段覆写前的原值
func (t *Transaction) RecordWriteFieldShort(obj *heap.Object, off heap.MemberOffset, oldValue int16, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindShort, util.Int16ToRaw(oldValue), nil, isVolatile)
}

// RecordWriteField32 记录32位字段覆写前的原始位模式（int/float共用）
func (t *Transaction) RecordWriteField32(obj *heap.Object, off heap.MemberOffset, oldValue uint32, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindInt, util.Uint32ToRaw(oldValue), nil, isVolatile)
}

// RecordWriteField64 记录64位字段覆写前的原始位模式（long/double共用）
func (t *Transaction) RecordWriteField64(obj *heap.Object, off heap.MemberOffset, oldValue uint64, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindLong, oldValue, nil, isVolatile)
}

// RecordWriteFieldReference 记录引用字段覆写前的原值
func (t *Transaction) RecordWriteFieldReference(obj *heap.Object, off heap.MemberOffset, oldValue *heap.Object, isVolatile bool) {
	t.recordFieldWrite(obj, off, heap.KindReference, 0, oldValue, isVolatile)
}

// RecordWriteArray 记录数组元素覆写前的原始位模式
func (t *Transaction) RecordWriteArray(arr *heap.Object, idx int, oldRaw uint64) {
	if t.rollingBack {
		return
	}
	t.assertRecordsAllowed("array")
	if arr == nil || !arr.IsArray() {
		logger.Panicf("txn: array write record requires an array object")
	}
	log := t.getOrCreateArrayLog(arr)
	if log.isNew {
		return
	}
	log.log(idx, oldRaw, nil)
}

// RecordWriteArrayReference 记录引用数组元素覆写前的原值
func (t *Transaction) RecordWriteArrayReference(arr *heap.Object, idx int, oldValue *heap.Object) {
	if t.rollingBack {
		return
	}
	t.assertRecordsAllowed("array")
	if arr == nil || arr.Class().ElemKind() != heap.KindReference {
		logger.Panicf("txn: reference array write record requires a reference array")
	}
	log := t.getOrCreateArrayLog(arr)
	if log.isNew {
		return
	}
	log.log(idx, 0, oldValue)
}

// RecordNewObject 标记一个事务内新建的对象
// 前置条件：该对象此刻没有任何已记录的字段原值——对象不能在
// 部分记录之后追认为新建，违反属于运行时自身缺陷
func (t *Transaction) RecordNewObject(obj *heap.Object) {
	t.assertRecordsAllowed("object")
	if obj == nil {
		logger.Panicf("txn: nil new object record")
	}
	log := t.getOrCreateObjectLog(obj)
	if log.Size() > 0 {
		logger.Panicf("txn: object of %s marked new after %d logged field values",
			obj.Class().Name(), log.Size())
	}
	log.isNew = true
	t.lastAllocated = obj
}

// RecordNewArray 标记一个事务内新建的数组
func (t *Transaction) RecordNewArray(arr *heap.Object) {
	t.assertRecordsAllowed("array")
	if arr == nil || !arr.IsArray() {
		logger.Panicf("txn: new array record requires an array object")
	}
	log := t.getOrCreateArrayLog(arr)
	if log.Size() > 0 {
		logger.Panicf("txn: array of %s marked new after %d logged element values",
			arr.Class().Name(), log.Size())
	}
	log.isNew = true
	t.lastAllocated = arr
}

// ObjectNeedsTransactionRecords 判断对象写入是否需要记日志
// 事务外分配的对象需要；事务内新建的整体消失，不需要
func (t *Transaction) ObjectNeedsTransactionRecords(obj *heap.Object) bool {
	if obj == t.lastAllocated {
		return false
	}
	if log, ok := t.objectLogs[obj]; ok {
		return !log.isNew
	}
	return true
}

// ArrayNeedsTransactionRecords 判断数组写入是否需要记日志
func (t *Transaction) ArrayNeedsTransactionRecords(arr *heap.Object) bool {
	if arr == t.lastAllocated {
		return false
	}
	if log, ok := t.arrayLogs[arr]; ok {
		return !log.isNew
	}
	return true
}

func (t *Transaction) createdByTransaction(obj *heap.Object) bool {
	if obj == t.lastAllocated {
		return true
	}
	if log, ok := t.objectLogs[obj]; ok && log.isNew {
		return true
	}
	if log, ok := t.arrayLogs[obj]; ok && log.isNew {
		return true
	}
	return false
}

// ReadConstraint 严格模式下的读可见性检查，true表示读取被禁止
// 一个类的初始化器不得在事务中途观察到另一个无关类的静态状态变化
func (t *Transaction) ReadConstraint(obj *heap.Object) bool {
	if !t.strict || obj == nil {
		return false
	}
	return obj.Class() != t.rootClass && !t.createdByTransaction(obj)
}

// WriteConstraint 严格模式下的写检查，true表示写入被禁止
func (t *Transaction) WriteConstraint(obj *heap.Object) bool {
	if !t.strict || obj == nil {
		return false
	}
	return obj.Class() != t.rootClass && !t.createdByTransaction(obj)
}

// WriteValueConstraint 对将要存储的引用值做同样的检查
// 防止事务把新状态泄漏进其他类初始化域的对象
func (t *Transaction) WriteValueConstraint(value *heap.Object) bool {
	if !t.strict || value == nil {
		return false
	}
	return value.Class() != t.rootClass && !t.createdByTransaction(value)
}

func (t *Transaction) recordIntern(s *heap.Object, kind StringKind, op StringOp) {
	if t.rollingBack {
		return
	}
	t.assertRecordsAllowed("intern string")
	if s == nil {
		logger.Panicf("txn: nil intern string record")
	}
	node := t.internSlab.New()
	node.s = s
	node.kind = kind
	node.op = op
	t.internLogs = append(t.internLogs, node)
}

// RecordStrongStringInsertion 记录一次强驻留插入
func (t *Transaction) RecordStrongStringInsertion(s *heap.Object) {
	t.recordIntern(s, StringStrong, StringInsert)
}

// RecordStrongStringRemoval 记录一次强驻留移除
func (t *Transaction) RecordStrongStringRemoval(s *heap.Object) {
	t.recordIntern(s, StringStrong, StringRemove)
}

// RecordWeakStringInsertion 记录一次弱驻留插入
func (t *Transaction) RecordWeakStringInsertion(s *heap.Object) {
	t.recordIntern(s, StringWeak, StringInsert)
}

// RecordWeakStringRemoval 记录一次弱驻留移除
func (t *Transaction) RecordWeakStringRemoval(s *heap.Object) {
	t.recordIntern(s, StringWeak, StringRemove)
}

// RecordResolveString 记录一次常量缓存字符串槽位解析
func (t *Transaction) RecordResolveString(cache *heap.ConstantCache, slot int) {
	if t.rollingBack {
		return
	}
	t.assertRecordsAllowed("resolve string")
	if cache == nil {
		logger.Panicf("txn: nil constant cache in resolve string record")
	}
	node := t.resStrSlab.New()
	node.cache = cache
	node.slot = slot
	t.resolveStrLogs = append(t.resolveStrLogs, node)
}

// RecordResolveMethodType 记录一次常量缓存方法类型槽位解析
func (t *Transaction) RecordResolveMethodType(cache *heap.ConstantCache, slot int) {
	if t.rollingBack {
		return
	}
	t.assertRecordsAllowed("resolve method type")
	if cache == nil {
		logger.Panicf("txn: nil constant cache in resolve method type record")
	}
	node := t.resMTypeSlab.New()
	node.cache = cache
	node.slot = slot
	t.resolveMTLogs = append(t.resolveMTLogs, node)
}

// Rollback 按日志恢复事务前的堆状态
// 对象/数组写回必须在互斥器锁排他态下进行；驻留表回退只持驻留表
// 自身的锁，不需要堆锁。回滚一旦开始就运行到底，没有部分回退状态
func (t *Transaction) Rollback(h *heap.Heap, it *interner.InternTable) {
	if t.rollingBack {
		logger.Panicf("txn: recursive rollback")
	}
	t.aborted = true
	t.rollingBack = true

	h.MutatorLatch().Lock()
	t.undoObjectModifications(h)
	t.undoArrayModifications(h)
	h.MutatorLatch().Unlock()

	if it != nil {
		t.undoInternStringMutations(it)
	}
	t.undoResolveStringModifications()
	t.undoResolveMethodTypeModifications()

	t.rollingBack = false
	logger.Debugf("txn: rolled back transaction of %s (%d object logs, %d array logs, %d intern logs)",
		t.rootClassName(), len(t.objectLogs), len(t.arrayLogs), len(t.internLogs))
}

func (t *Transaction) undoObjectModifications(h *heap.Heap) {
	h.MutatorLatch().AssertExclusiveHeld("Transaction.undoObjectModifications")
	for i := len(t.objectOrder) - 1; i >= 0; i-- {
		obj := t.objectOrder[i]
		log := t.objectLogs[obj]
		if log.isNew {
			// 新对象整体变为不可达，没有需要还原的先前状态
			continue
		}
		log.undo(h, obj)
	}
}

func (t *Transaction) undoArrayModifications(h *heap.Heap) {
	h.MutatorLatch().AssertExclusiveHeld("Transaction.undoArrayModifications")
	for i := len(t.arrayOrder) - 1; i >= 0; i-- {
		arr := t.arrayOrder[i]
		log := t.arrayLogs[arr]
		if log.isNew {
			continue
		}
		log.undo(h, arr)
	}
}

func (t *Transaction) undoInternStringMutations(it *interner.InternTable) {
	for _, l := range t.internLogs {
		l.undo(it)
	}
}

func (t *Transaction) undoResolveStringModifications() {
	for _, l := range t.resolveStrLogs {
		l.undo()
	}
}

func (t *Transaction) undoResolveMethodTypeModifications() {
	for _, l := range t.resolveMTLogs {
		l.undo()
	}
}

// VisitRoots 把日志持有的全部堆引用各一次地暴露给根扫描
// 这里是根的"发现"而非普通读取：访问走原始引用，不经过读屏障；
// 访问器可以返回移动后的新地址，日志会写回
func (t *Transaction) VisitRoots(visit func(*heap.Object) *heap.Object) {
	t.visitObjectLogs(visit)
	t.visitArrayLogs(visit)
	for _, l := range t.internLogs {
		if moved := visit(l.s); moved != l.s {
			l.s = moved
		}
	}
	for _, l := range t.resolveStrLogs {
		l.visitRoots(visit)
	}
	for _, l := range t.resolveMTLogs {
		l.visitRoots(visit)
	}
}

func (t *Transaction) visitObjectLogs(visit func(*heap.Object) *heap.Object) {
	for i, obj := range t.objectOrder {
		if moved := visit(obj); moved != obj {
			log := t.objectLogs[obj]
			delete(t.objectLogs, obj)
			t.objectLogs[moved] = log
			t.objectOrder[i] = moved
		}
		t.objectLogs[t.objectOrder[i]].visitRoots(visit)
	}
}

func (t *Transaction) visitArrayLogs(visit func(*heap.Object) *heap.Object) {
	for i, arr := range t.arrayOrder {
		if moved := visit(arr); moved != arr {
			log := t.arrayLogs[arr]
			delete(t.arrayLogs, arr)
			t.arrayLogs[moved] = log
			t.arrayOrder[i] = moved
		}
		t.arrayLogs[t.arrayOrder[i]].visitRoots(visit)
	}
}
