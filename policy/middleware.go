package policy

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/trace"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// MetricDecisions 授权判定次数 (Counter)，标签: outcome, reason
const MetricDecisions = "gateway_policy_decisions_total"

// Option 中间件选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 注入日志记录器，自动追加 "policy" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("policy")
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

// GinMiddleware 授权中间件，current 每次请求返回当前生效的 Policy。
// 需要放在 auth 中间件之后；拒绝时 401 或 403，请求不会继续转发。
func GinMiddleware(current func() *Policy, opts ...Option) gin.HandlerFunc {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	decisions, err := o.meter.Counter(MetricDecisions, "Number of route authorization decisions.")
	if err != nil {
		o.logger.Error("create policy metrics failed", clog.Error(err))
		decisions, _ = metrics.Discard().Counter(MetricDecisions, "")
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		principal, _ := auth.GetPrincipal(c)
		d := current().Authorize(c.Request.Method, c.Request.URL.Path, principal)

		oteltrace.SpanFromContext(ctx).SetAttributes(attribute.String(trace.AttrPolicyDecision, d.String()))

		if d.Allowed {
			decisions.Inc(ctx, metrics.L(metrics.LabelOutcome, "allow"))
			c.Next()
			return
		}

		decisions.Inc(ctx, metrics.L(metrics.LabelOutcome, "deny"), metrics.L(metrics.LabelReason, reasonLabel(d)))
		o.logger.InfoContext(ctx, "request denied",
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path),
			clog.String("principal", principal.String()),
			clog.String("decision", d.String()),
			clog.Int("rule", d.Rule))

		if xerrors.Is(d.Reason, ErrUnauthenticated) {
			auth.AbortUnauthenticated(c, d.Reason)
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":  xerrors.CodeOr(d.Reason, CodeForbidden),
			"error": d.Reason.Error(),
		})
	}
}

func reasonLabel(d Decision) string {
	if xerrors.Is(d.Reason, ErrUnauthenticated) {
		return "unauthenticated"
	}
	return "forbidden"
}
