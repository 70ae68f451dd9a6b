package txn

import "errors"

// 事务相关错误
var (
	ErrNoActiveTransaction     = errors.New("no active transaction")
	ErrInvalidTransactionState = errors.New("invalid transaction state")
)

// AbortError 事务中止时抛给语言层的初始化错误
// 对应类初始化失败：调用方应把它传播给触发初始化的代码，而不是当作运行时缺陷
type AbortError struct {
	Message string
}

// Error 实现error接口
func (e *AbortError) Error() string {
	return "transaction aborted: " + e.Message
}

// IsAbortError 判断错误链上是否为事务中止
func IsAbortError(err error) bool {
	var abort *AbortError
	return errors.As(err, &abort)
}
