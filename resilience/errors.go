package resilience

import (
	"fmt"

	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// ErrTimedOut 调用超过了时间限制
var ErrTimedOut = xerrors.New("resilience: call timed out")

// ErrBreakerOpen 便于调用方只引用本包，与 breaker.ErrBreakerOpen 是同一个值
var ErrBreakerOpen = breaker.ErrBreakerOpen

// DownstreamError 下游调用本身返回的错误
type DownstreamError struct {
	Cause error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("resilience: downstream failure: %v", e.Cause)
}

func (e *DownstreamError) Unwrap() error {
	return e.Cause
}

// FallbackFailedError 降级函数也失败时返回，同时保留原始失败原因与降级错误
type FallbackFailedError struct {
	Original error
	Fallback error
}

func (e *FallbackFailedError) Error() string {
	return fmt.Sprintf("resilience: fallback failed: %v (original: %v)", e.Fallback, e.Original)
}

// Unwrap 两个错误都参与 errors.Is / errors.As 匹配
func (e *FallbackFailedError) Unwrap() []error {
	return []error{e.Original, e.Fallback}
}

// IsRejected 调用是否因熔断器打开而未执行
func IsRejected(err error) bool {
	return xerrors.Is(err, breaker.ErrBreakerOpen)
}

// IsTimeout 调用是否超时
func IsTimeout(err error) bool {
	return xerrors.Is(err, ErrTimedOut)
}
