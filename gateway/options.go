package gateway

import (
	"net/http"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/filter"
	"github.com/ceyewan/gatekeeper/metrics"
)

// Option 网关选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	transport http.RoundTripper
	verifier  auth.Verifier
	clock     breaker.Clock
	filters   []filter.Filter
}

func defaultOptions() *options {
	return &options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		transport: http.DefaultTransport,
	}
}

// WithLogger 注入日志记录器，自动追加 "gateway" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("gateway")
		}
	}
}

// WithMeter 注入指标，/metrics 使用它的 Handler
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTransport 替换转发使用的 RoundTripper
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.transport = rt
		}
	}
}

// WithVerifier 替换令牌校验器
func WithVerifier(v auth.Verifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

// WithClock 替换熔断器时钟
func WithClock(c breaker.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithFilters 追加自定义过滤器，与内置过滤器一起按 Order 排序
func WithFilters(fs ...filter.Filter) Option {
	return func(o *options) {
		o.filters = append(o.filters, fs...)
	}
}
