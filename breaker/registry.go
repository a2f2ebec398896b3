package breaker

import (
	"sort"
	"sync"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// Option Registry 选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	clock    Clock
	onChange StateChangeFunc
	recorder *recorder
}

// WithLogger 注入日志记录器，自动追加 "breaker" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("breaker")
		}
	}
}

// WithMeter 注入指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithClock 替换时间来源
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithStateChangeHook 注册状态变化回调，对注册表内所有熔断器生效
func WithStateChangeHook(fn StateChangeFunc) Option {
	return func(o *options) {
		o.onChange = fn
	}
}

// Registry 持有所有熔断器实例，按资源名懒创建。
// 生命周期与服务一致：启动时创建，注入到需要保护下游调用的组件。
type Registry struct {
	cfg      *Config
	opts     *options
	breakers sync.Map // name -> *CircuitBreaker
}

// NewRegistry 创建注册表，cfg 为 nil 时全部使用默认策略
func NewRegistry(cfg *Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(o)
	}

	rec, err := newRecorder(o.meter)
	if err != nil {
		return nil, xerrors.Wrap(err, "breaker: create metrics")
	}
	o.recorder = rec

	return &Registry{cfg: cfg, opts: o}, nil
}

// Get 返回 name 对应的熔断器，不存在时按配置创建
func (r *Registry) Get(name string) (*CircuitBreaker, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	if v, ok := r.breakers.Load(name); ok {
		return v.(*CircuitBreaker), nil
	}

	cb := newCircuitBreaker(name, r.cfg.PolicyFor(name), r.opts)
	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if !loaded {
		r.opts.logger.Debug("circuit breaker created", clog.String("breaker", name))
	}
	return actual.(*CircuitBreaker), nil
}

// Replace 以新策略创建新的熔断器替换旧实例，旧实例上未完成的调用结果不再影响新实例
func (r *Registry) Replace(name string, p Policy) (*CircuitBreaker, error) {
	if name == "" {
		return nil, ErrNameEmpty
	}
	p = mergePolicy(r.cfg.Default, p)
	if err := p.validate(); err != nil {
		return nil, err
	}

	cb := newCircuitBreaker(name, p, r.opts)
	r.breakers.Store(name, cb)
	r.opts.logger.Info("circuit breaker replaced", clog.String("breaker", name))
	return cb, nil
}

// Reset 以当前策略重建熔断器，状态回到 Closed
func (r *Registry) Reset(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	policy := r.cfg.PolicyFor(name)
	if v, ok := r.breakers.Load(name); ok {
		policy = v.(*CircuitBreaker).Policy()
	}

	r.breakers.Store(name, newCircuitBreaker(name, policy, r.opts))
	r.opts.logger.Info("circuit breaker reset", clog.String("breaker", name))
	return nil
}

// Snapshot 返回所有已创建熔断器的统计，按名称排序
func (r *Registry) Snapshot() []Metrics {
	var out []Metrics
	r.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*CircuitBreaker).Metrics())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
