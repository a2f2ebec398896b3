package filter

import (
	"time"

	"github.com/ceyewan/gatekeeper/clog"
)

// DefaultLoggingOrder 访问日志过滤器的默认顺序，位于最外层
const DefaultLoggingOrder = -1000

// LoggingFilter 访问日志
type LoggingFilter struct {
	order  int
	logger clog.Logger
}

// NewLoggingFilter 创建访问日志过滤器，order 为 0 时取 DefaultLoggingOrder
func NewLoggingFilter(order int, opts ...Option) *LoggingFilter {
	if order == 0 {
		order = DefaultLoggingOrder
	}
	o := applyOptions(opts)
	return &LoggingFilter{order: order, logger: o.logger}
}

func (f *LoggingFilter) Name() string { return "logging" }
func (f *LoggingFilter) Order() int   { return f.order }

func (f *LoggingFilter) Filter(fc *Context, next Next) error {
	start := time.Now()
	f.logger.DebugContext(fc.Context(), "request received",
		clog.String("method", fc.Method()),
		clog.String("path", fc.Path()))

	err := next()

	fields := []clog.Field{
		clog.String("method", fc.Method()),
		clog.String("path", fc.Path()),
		clog.Int("status", fc.Response.Status),
		clog.Duration("latency", time.Since(start)),
		clog.String("principal", fc.Principal().String()),
	}
	switch {
	case err != nil:
		f.logger.WarnContext(fc.Context(), "request failed", append(fields, clog.Error(err))...)
	case fc.Response.Status >= 500:
		f.logger.WarnContext(fc.Context(), "request completed", fields...)
	default:
		f.logger.InfoContext(fc.Context(), "request completed", fields...)
	}
	return err
}
