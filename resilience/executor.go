// Package resilience 把熔断器、时间限制与降级组合成一次受保护的调用。
//
// 一次调用的流程：
//
//  1. 按资源名从 breaker.Registry 取得熔断器并申请许可，未获许可直接进入降级；
//  2. 在 TimeLimiter 下执行主调用；
//  3. 成功、超时或下游错误各记录一次结果；父 Context 取消时归还许可，不计入窗口；
//  4. 失败时若提供了降级函数，则返回降级结果。
//
// 基本用法：
//
//	exec, _ := resilience.New(registry, &resilience.Config{Timeout: time.Second})
//	item, err := resilience.Execute(ctx, exec, "items", fetchItem, func(ctx context.Context, reason error) (Item, error) {
//	    return cachedItem, nil
//	})
package resilience

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/trace"
	"github.com/ceyewan/gatekeeper/xerrors"
)

const (
	// MetricCallsTotal 受保护调用数 (Counter)
	MetricCallsTotal = "resilience_calls_total"
	// MetricFallbacksTotal 降级次数 (Counter)
	MetricFallbacksTotal = "resilience_fallbacks_total"

	// OutcomeCanceled 调用方取消
	OutcomeCanceled = "canceled"
)

// ErrNilRegistry 未提供熔断器注册表
var ErrNilRegistry = xerrors.New("resilience: breaker registry is nil")

// Fallback 降级函数，reason 为触发降级的错误
type Fallback[T any] func(ctx context.Context, reason error) (T, error)

// Executor 受保护调用的执行器，可在多个 goroutine 间共享
type Executor struct {
	registry *breaker.Registry
	cfg      Config
	opts     *options

	calls     metrics.Counter
	fallbacks metrics.Counter
}

// New 创建执行器
func New(registry *breaker.Registry, cfg *Config, opts ...Option) (*Executor, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	calls, err := o.meter.Counter(MetricCallsTotal, "Number of protected calls by outcome.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create calls counter")
	}
	fallbacks, err := o.meter.Counter(MetricFallbacksTotal, "Number of fallbacks by outcome.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create fallbacks counter")
	}

	return &Executor{
		registry:  registry,
		cfg:       c,
		opts:      o,
		calls:     calls,
		fallbacks: fallbacks,
	}, nil
}

// Registry 底层熔断器注册表
func (e *Executor) Registry() *breaker.Registry {
	return e.registry
}

// Limiter 返回资源对应的时间限制器
func (e *Executor) Limiter(name string) *TimeLimiter {
	return NewTimeLimiter(e.cfg.TimeoutFor(name))
}

// Execute 以资源名 name 执行受保护调用。
//
// 返回值：
//   - 主调用成功：主调用结果；
//   - 失败且 fallback 为 nil：ErrBreakerOpen、ErrTimedOut 或 *DownstreamError；
//   - 失败且降级成功：降级结果与 nil；
//   - 降级也失败：*FallbackFailedError；
//   - 父 Context 取消：Context 的 Cause，不触发降级。
func Execute[T any](ctx context.Context, e *Executor, name string, primary func(context.Context) (T, error), fallback Fallback[T]) (T, error) {
	var zero T

	cb, err := e.registry.Get(name)
	if err != nil {
		return zero, err
	}

	ctx, span := e.opts.tracer.Start(ctx, trace.SpanNameResilientCall(name))
	defer span.End()

	value, outcome, reason := attempt(ctx, e, cb, primary)
	span.SetAttributes(
		attribute.String(trace.AttrBreakerName, name),
		attribute.String(trace.AttrBreakerState, cb.State().String()),
		attribute.String(trace.AttrCallOutcome, outcome),
	)
	e.calls.Inc(ctx, metrics.L(metrics.LabelBreaker, name), metrics.L(metrics.LabelOutcome, outcome))

	if outcome == metrics.OutcomeSuccess {
		return value, reason
	}
	if outcome == OutcomeCanceled || fallback == nil {
		span.SetStatus(codes.Error, reason.Error())
		span.SetAttributes(attribute.Bool(trace.AttrFallbackUsed, false))
		return zero, reason
	}

	span.SetAttributes(attribute.Bool(trace.AttrFallbackUsed, true))
	fb, ferr := fallback(ctx, reason)
	if ferr != nil {
		e.fallbacks.Inc(ctx, metrics.L(metrics.LabelBreaker, name), metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Error())
		e.opts.logger.WarnContext(ctx, "fallback failed",
			clog.String("breaker", name),
			clog.String("reason", reason.Error()),
			clog.Error(ferr))
		return zero, &FallbackFailedError{Original: reason, Fallback: ferr}
	}
	e.fallbacks.Inc(ctx, metrics.L(metrics.LabelBreaker, name), metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
	e.opts.logger.DebugContext(ctx, "fallback served",
		clog.String("breaker", name),
		clog.String("outcome", outcome))
	return fb, nil
}

// attempt 申请许可并执行主调用，恰好记录一次结果或归还许可
func attempt[T any](ctx context.Context, e *Executor, cb *breaker.CircuitBreaker, primary func(context.Context) (T, error)) (T, string, error) {
	var zero T

	permit, err := cb.TryAcquire()
	if err != nil {
		return zero, metrics.OutcomeRejected, err
	}

	value, elapsed, err := Run(ctx, e.Limiter(cb.Name()), primary)
	switch {
	case err == nil:
		cb.OnResult(permit, breaker.Success(elapsed))
		return value, metrics.OutcomeSuccess, nil

	case errors.Is(err, ErrTimedOut) && ctx.Err() == nil:
		// 父 Context 以 ErrTimedOut 结束时（外层 Execute 超时）不算本次超时
		cb.OnResult(permit, breaker.Failure(elapsed, err))
		e.opts.logger.WarnContext(ctx, "call timed out",
			clog.String("breaker", cb.Name()),
			clog.Duration("elapsed", elapsed))
		return zero, metrics.OutcomeTimeout, err

	case ctx.Err() != nil:
		cb.Release(permit)
		return zero, OutcomeCanceled, context.Cause(ctx)

	case e.opts.ignored != nil && e.opts.ignored(err):
		cb.OnResult(permit, breaker.Success(elapsed))
		return value, metrics.OutcomeSuccess, err

	default:
		cb.OnResult(permit, breaker.Failure(elapsed, err))
		return zero, metrics.OutcomeError, &DownstreamError{Cause: err}
	}
}

// Invoker 带参数的下游调用
type Invoker[In, Out any] interface {
	Call(ctx context.Context, in In) (Out, error)
}

// InvokerFunc 函数适配 Invoker
type InvokerFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

func (f InvokerFunc[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}

// Invoke 是 Execute 的带参数形式，降级函数同时拿到原始入参
func Invoke[In, Out any](ctx context.Context, e *Executor, name string, in In,
	invoker Invoker[In, Out], fallback func(ctx context.Context, in In, reason error) (Out, error)) (Out, error) {

	var fb Fallback[Out]
	if fallback != nil {
		fb = func(ctx context.Context, reason error) (Out, error) {
			return fallback(ctx, in, reason)
		}
	}
	return Execute(ctx, e, name, func(ctx context.Context) (Out, error) {
		return invoker.Call(ctx, in)
	}, fb)
}
