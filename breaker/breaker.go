// Package breaker 提供按资源名隔离的熔断器。
//
// 每个 CircuitBreaker 持有一个计数滑动窗口和三态状态机：
//
//	Closed   --窗口已满且失败率/慢调用率达到阈值-->  Open
//	Open     --等待 WaitDurationInOpenState 后的下一次请求-->  HalfOpen
//	HalfOpen --探测窗口满且低于阈值-->  Closed
//	HalfOpen --探测窗口达到阈值（或已注定达到）-->  Open
//
// 所有状态转换都在单个熔断器的互斥锁内完成，不同资源之间不共享锁。
// 熔断器实例由 Registry 创建与持有，调用方通过 Registry.Get 获取。
//
// 基本使用：
//
//	reg, _ := breaker.NewRegistry(&breaker.Config{}, breaker.WithLogger(logger))
//	cb, _ := reg.Get("inventory")
//
//	permit, err := cb.TryAcquire()
//	if err != nil {
//		return fallback(err) // breaker.ErrBreakerOpen
//	}
//	start := time.Now()
//	err = call()
//	cb.OnResult(permit, breaker.Failure(time.Since(start), err))
//
// 大多数调用方应使用 resilience.Execute，它组合了熔断、超时与降级。
package breaker

import (
	"sync"
	"time"

	"github.com/ceyewan/gatekeeper/clog"
)

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText 使状态以字符串形式出现在 JSON 中
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Clock 时间来源，测试中可替换为可控时钟
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Permit 一次被放行的调用凭证，必须以 OnResult 或 Release 结束。
// 凭证绑定发放时的状态代际，过期代际的结果会被忽略。
type Permit struct {
	generation uint64
	state      State
}

// State 发放凭证时熔断器所处的状态
func (p Permit) State() State {
	return p.state
}

// StateChangeFunc 状态变化回调，在熔断器锁外调用
type StateChangeFunc func(name string, from, to State)

// Metrics 熔断器运行时统计
type Metrics struct {
	Name         string  `json:"name"`
	State        State   `json:"state"`
	FailureRate  float64 `json:"failure_rate"`   // 百分比，窗口未满时为 -1
	SlowCallRate float64 `json:"slow_call_rate"` // 百分比，窗口未满时为 -1
	Samples      int     `json:"samples"`
	WindowSize   int     `json:"window_size"`
	// HalfOpenRemaining 半开状态剩余探测名额
	HalfOpenRemaining int    `json:"half_open_remaining"`
	NotPermitted      uint64 `json:"not_permitted"`
	Policy            Policy `json:"policy"`
}

// CircuitBreaker 单个资源的熔断器
type CircuitBreaker struct {
	name     string
	policy   Policy
	clock    Clock
	logger   clog.Logger
	recorder *recorder
	onChange StateChangeFunc

	mu           sync.Mutex
	state        State
	generation   uint64
	openedAt     time.Time
	remaining    int
	window       *Window
	trial        *Window
	notPermitted uint64
}

func newCircuitBreaker(name string, policy Policy, o *options) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		policy:   policy,
		clock:    o.clock,
		logger:   o.logger.With(clog.String("breaker", name)),
		recorder: o.recorder,
		onChange: o.onChange,
		state:    StateClosed,
		window:   NewWindow(policy.SlidingWindowSize),
	}
}

// Name 资源名
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Policy 生效策略
func (cb *CircuitBreaker) Policy() Policy {
	return cb.policy
}

// State 当前状态。Open 状态即使等待时间已到，也要等下一次 TryAcquire 才会转为 HalfOpen。
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// TryAcquire 申请一次调用。返回 ErrBreakerOpen 时调用不得执行。
func (cb *CircuitBreaker) TryAcquire() (Permit, error) {
	var change *transition

	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.policy.WaitDurationInOpenState {
			cb.notPermitted++
			cb.mu.Unlock()
			cb.recorder.rejected(cb.name)
			return Permit{}, ErrBreakerOpen
		}
		change = cb.transitionLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.remaining <= 0 {
			cb.notPermitted++
			cb.mu.Unlock()
			cb.recorder.rejected(cb.name)
			return Permit{}, ErrBreakerOpen
		}
		cb.remaining--
	}
	permit := Permit{generation: cb.generation, state: cb.state}
	cb.mu.Unlock()

	cb.notify(change)
	return permit, nil
}

// OnResult 记录一次被放行调用的结果。耗时达到 SlowCallDurationThreshold 的结果视为慢调用。
func (cb *CircuitBreaker) OnResult(p Permit, o Outcome) {
	o = o.classify(cb.policy.SlowCallDurationThreshold)

	var change *transition

	cb.mu.Lock()
	if p.generation != cb.generation {
		cb.mu.Unlock()
		cb.logger.Debug("stale outcome ignored", clog.String("permit_state", p.state.String()))
		return
	}

	switch cb.state {
	case StateClosed:
		cb.window.Record(o)
		if cb.window.Snapshot().exceeds(cb.policy) {
			change = cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.trial.Record(o)
		snap := cb.trial.Snapshot()
		switch {
		case snap.Full() && snap.exceeds(cb.policy):
			change = cb.transitionLocked(StateOpen)
		case snap.Full():
			change = cb.transitionLocked(StateClosed)
		case snap.settled(cb.policy):
			change = cb.transitionLocked(StateOpen)
		}
	}
	cb.mu.Unlock()

	cb.recorder.outcome(cb.name, o)
	cb.notify(change)
}

// Release 归还一个未产生结果的凭证（例如调用方在执行前取消）。
// 半开状态下名额会被归还；不记录任何结果。
func (cb *CircuitBreaker) Release(p Permit) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if p.generation == cb.generation && cb.state == StateHalfOpen {
		cb.remaining++
	}
}

// Metrics 返回当前统计
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	w := cb.window
	if cb.state == StateHalfOpen {
		w = cb.trial
	}
	snap := w.Snapshot()
	failureRate, slowRate, ok := snap.Rates()
	if !ok {
		failureRate, slowRate = -1, -1
	}

	return Metrics{
		Name:              cb.name,
		State:             cb.state,
		FailureRate:       failureRate,
		SlowCallRate:      slowRate,
		Samples:           snap.Samples,
		WindowSize:        snap.Size,
		HalfOpenRemaining: cb.remaining,
		NotPermitted:      cb.notPermitted,
		Policy:            cb.policy,
	}
}

type transition struct {
	from, to State
	snap     Snapshot
}

// transitionLocked 切换状态并推进代际，调用方必须持有锁
func (cb *CircuitBreaker) transitionLocked(to State) *transition {
	from := cb.state
	t := &transition{from: from, to: to, snap: cb.window.Snapshot()}
	if from == StateHalfOpen {
		t.snap = cb.trial.Snapshot()
	}

	cb.state = to
	cb.generation++

	switch to {
	case StateOpen:
		cb.openedAt = cb.clock.Now()
		cb.remaining = 0
		cb.trial = nil
	case StateHalfOpen:
		cb.remaining = cb.policy.PermittedCallsInHalfOpenState
		cb.trial = NewWindow(cb.policy.PermittedCallsInHalfOpenState)
	case StateClosed:
		cb.window.Reset()
		cb.remaining = 0
		cb.trial = nil
	}
	return t
}

// notify 在锁外输出日志、指标并调用回调
func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}

	fields := []clog.Field{
		clog.String("from", t.from.String()),
		clog.String("to", t.to.String()),
		clog.Int("samples", t.snap.Samples),
		clog.Int("failures", t.snap.Failures),
		clog.Int("slow", t.snap.Slow),
	}
	if t.to == StateOpen {
		cb.logger.Warn("circuit breaker opened", fields...)
	} else {
		cb.logger.Info("circuit breaker state changed", fields...)
	}

	cb.recorder.transition(cb.name, t.from, t.to)
	if cb.onChange != nil {
		cb.onChange(cb.name, t.from, t.to)
	}
}
