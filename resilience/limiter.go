package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeLimiter 为调用设置最长执行时间
type TimeLimiter struct {
	timeout time.Duration
}

// NewTimeLimiter 创建时间限制器，timeout <= 0 表示不限时
func NewTimeLimiter(timeout time.Duration) *TimeLimiter {
	return &TimeLimiter{timeout: timeout}
}

// Timeout 限制时长
func (l *TimeLimiter) Timeout() time.Duration {
	if l == nil {
		return 0
	}
	return l.timeout
}

type result[T any] struct {
	value T
	err   error
}

// Run 在派生的限时 Context 中执行 fn，返回结果、耗时与错误。
//
// 超时后返回 ErrTimedOut 并取消派生 Context；fn 之后的结果被丢弃，不会交给调用方。
// 父 Context 取消时返回父 Context 的 Cause，而不是 ErrTimedOut。
func Run[T any](ctx context.Context, l *TimeLimiter, fn func(context.Context) (T, error)) (T, time.Duration, error) {
	var zero T
	start := time.Now()

	if ctx.Err() != nil {
		return zero, 0, context.Cause(ctx)
	}
	if l.Timeout() <= 0 {
		v, err := call(ctx, fn)
		return v, time.Since(start), err
	}

	tctx, cancel := context.WithTimeoutCause(ctx, l.timeout, ErrTimedOut)
	defer cancel()

	// 缓冲为 1：超时后 goroutine 仍可写入并退出，结果无人接收
	ch := make(chan result[T], 1)
	go func() {
		v, err := call(tctx, fn)
		ch <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, time.Since(start), r.err
	case <-tctx.Done():
		return zero, time.Since(start), context.Cause(tctx)
	}
}

// call 将 fn 的 panic 转为错误
func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resilience: call panicked: %v", r)
		}
	}()
	return fn(ctx)
}
