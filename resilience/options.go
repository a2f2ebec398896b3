package resilience

import (
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/trace"
)

// Config 执行器配置
//
//	resilience:
//	  timeout: 4s
//	  timeouts:
//	    inventory: 1s
type Config struct {
	// Timeout 默认调用时限，<= 0 时取 4s
	Timeout time.Duration `mapstructure:"timeout"`
	// Timeouts 按资源名覆盖时限
	Timeouts map[string]time.Duration `mapstructure:"timeouts"`
}

// DefaultTimeout 默认调用时限
const DefaultTimeout = 4 * time.Second

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// TimeoutFor 返回资源的生效时限
func (c *Config) TimeoutFor(name string) time.Duration {
	if d, ok := c.Timeouts[name]; ok && d > 0 {
		return d
	}
	return c.Timeout
}

// Option 执行器选项
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	tracer  oteltrace.Tracer
	ignored func(error) bool
}

// WithLogger 注入日志记录器，自动追加 "resilience" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("resilience")
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

// WithTracer 替换 tracer，默认使用全局 Provider
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithIgnoredErrors 匹配的错误视为业务结果：记为成功、不触发降级、原样返回
func WithIgnoredErrors(fn func(error) bool) Option {
	return func(o *options) {
		o.ignored = fn
	}
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		tracer: trace.Tracer(),
	}
}
