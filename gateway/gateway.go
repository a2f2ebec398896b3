// Package gateway 组装网关请求管线。
//
// 一个请求依次经过：
//
//	gin (追踪、RED 指标) -> auth (令牌 -> Principal) -> policy (路由授权)
//	-> filter.Chain (关联令牌、访问日志、限流、自定义过滤器)
//	-> 转发到上游（可选经 resilience 执行器：熔断、时限、降级）
//
// 被拒绝的请求（401/403/429）不会到达上游。授权规则可在运行时整体替换。
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/config"
	"github.com/ceyewan/gatekeeper/filter"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/policy"
	"github.com/ceyewan/gatekeeper/resilience"
	"github.com/ceyewan/gatekeeper/trace"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// Gateway 网关实例，创建后可并发处理请求
type Gateway struct {
	cfg    Config
	logger clog.Logger
	meter  metrics.Meter

	registry *breaker.Registry
	executor *resilience.Executor
	authn    *auth.Authenticator
	policy   atomic.Pointer[policy.Policy]
	chain    *filter.Chain
	routes   []*route

	engine *gin.Engine
	admin  *gin.Engine
}

// New 创建网关
func New(cfg *Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	g := &Gateway{cfg: c, logger: o.logger, meter: o.meter}

	var err error
	g.registry, err = breaker.NewRegistry(&c.Breaker,
		breaker.WithLogger(o.logger),
		breaker.WithMeter(o.meter),
		breaker.WithClock(o.clock))
	if err != nil {
		return nil, xerrors.Wrap(err, "gateway: breaker registry")
	}
	g.executor, err = resilience.New(g.registry, &c.Resilience,
		resilience.WithLogger(o.logger),
		resilience.WithMeter(o.meter))
	if err != nil {
		return nil, xerrors.Wrap(err, "gateway: executor")
	}

	authOpts := []auth.Option{auth.WithLogger(o.logger), auth.WithMeter(o.meter)}
	if o.verifier != nil {
		authOpts = append(authOpts, auth.WithVerifier(o.verifier))
	}
	g.authn, err = auth.New(&c.Auth, authOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "gateway: authenticator")
	}

	if err := g.ReloadRules(c.Rules); err != nil {
		return nil, err
	}

	if g.chain, err = g.buildChain(o); err != nil {
		return nil, err
	}

	for _, rc := range c.Routes {
		rt, err := newRoute(rc, o.transport, c.MaxBodyBytes)
		if err != nil {
			return nil, err
		}
		g.routes = append(g.routes, rt)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(o.meter, c.Name)
	if err != nil {
		return nil, err
	}
	if g.engine, err = g.newEngine(httpMetrics); err != nil {
		return nil, err
	}
	g.admin = g.newAdminEngine()
	if c.adminOnMain() {
		g.mountAdmin(g.engine)
	}

	g.logger.Info("gateway created",
		clog.Int("routes", len(g.routes)),
		clog.Int("rules", len(c.Rules)),
		clog.Int("filters", len(g.chain.Filters())))
	return g, nil
}

func (g *Gateway) buildChain(o *options) (*filter.Chain, error) {
	fopts := []filter.Option{filter.WithLogger(o.logger), filter.WithMeter(o.meter)}
	fs := []filter.Filter{
		filter.NewLoggingFilter(0, fopts...),
		filter.NewCorrelationFilter(&g.cfg.Correlation, fopts...),
	}
	if g.cfg.RateLimit != nil {
		rl, err := filter.NewRateLimitFilter(g.cfg.RateLimit, filter.PrincipalKey, fopts...)
		if err != nil {
			return nil, xerrors.Wrap(err, "gateway: rate limit filter")
		}
		fs = append(fs, rl)
	}
	fs = append(fs, o.filters...)
	return filter.NewChain(fs...), nil
}

func (g *Gateway) newEngine(httpMetrics *metrics.HTTPMetrics) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(g.cfg.TrustedProxies); err != nil {
		return nil, xerrors.Wrapf(ErrInvalidConfig, "trusted_proxies: %v", err)
	}
	r.Use(gin.Recovery(), trace.GinMiddleware(g.cfg.Name), metrics.GinMiddleware(httpMetrics))

	secured := []gin.HandlerFunc{
		g.authn.GinMiddleware(),
		policy.GinMiddleware(g.Policy, policy.WithLogger(g.logger), policy.WithMeter(g.meter)),
	}
	r.GET("/authorized", append(secured, g.authorized)...)
	r.POST("/logout", append(secured, g.logout)...)
	r.NoRoute(append(secured, g.forward)...)
	return r, nil
}

// Handler 网关主入口
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// AdminHandler 管理接口：/actuator/health、/actuator/breakers、/metrics
func (g *Gateway) AdminHandler() http.Handler {
	return g.admin
}

// Registry 网关使用的熔断器注册表
func (g *Gateway) Registry() *breaker.Registry {
	return g.registry
}

// Policy 当前生效的授权策略
func (g *Gateway) Policy() *policy.Policy {
	return g.policy.Load()
}

// ReloadPolicy 整体替换授权策略，正在处理的请求继续使用旧策略
func (g *Gateway) ReloadPolicy(p *policy.Policy) {
	if p == nil {
		return
	}
	g.policy.Store(p)
	g.logger.Info("policy reloaded", clog.Int("rules", len(p.Rules())))
}

// ReloadRules 由规则配置构造新策略并替换；配置不合法时保留旧策略
func (g *Gateway) ReloadRules(rules []policy.RuleConfig) error {
	p, err := policy.FromConfig(rules)
	if err != nil {
		return xerrors.Wrap(err, "gateway: build policy")
	}
	g.ReloadPolicy(p)
	return nil
}

// WatchRules 监听配置中 key 对应的规则列表，变化时重新加载，直到 ctx 结束
func (g *Gateway) WatchRules(ctx context.Context, loader config.Loader, key string) error {
	events, err := loader.Watch(ctx, key)
	if err != nil {
		return err
	}
	go func() {
		for range events {
			var rules []policy.RuleConfig
			if err := loader.UnmarshalKey(key, &rules); err != nil {
				g.logger.Warn("decode rules failed", clog.String("key", key), clog.Error(err))
				continue
			}
			if len(rules) == 0 {
				rules = policy.DefaultRules()
			}
			if err := g.ReloadRules(rules); err != nil {
				g.logger.Warn("reload rules failed, keeping current policy", clog.Error(err))
			}
		}
	}()
	return nil
}

// match 按前缀匹配路由，取最长前缀
func (g *Gateway) match(path string) *route {
	var best *route
	for _, rt := range g.routes {
		if rt.matches(path) && (best == nil || len(rt.prefix) > len(best.prefix)) {
			best = rt
		}
	}
	return best
}

func (g *Gateway) authorized(c *gin.Context) {
	code := c.Query("code")
	if strings.TrimSpace(code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "MISSING_CODE", "error": "query parameter code is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (g *Gateway) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
