// Package auth 将 Bearer 令牌转换为 Principal。
//
// 流程分三步：
//   - Verifier 校验签名、签发者与有效期，得到声明集合（默认 JWTVerifier）；
//   - Mapper 从声明中读取主体与授权标识（roles 与带 SCOPE_ 前缀的 scope）；
//   - 结果按令牌缓存，过期时间对齐令牌的 exp。
//
// 基本使用：
//
//	authn, _ := auth.New(&auth.Config{SecretKey: "..."}, auth.WithLogger(logger))
//	r.Use(authn.GinMiddleware())
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/xerrors"
)

const (
	// MetricTokensValidated 令牌校验计数，标签: status, reason
	MetricTokensValidated = "auth_tokens_validated_total"
	// MetricCacheLookups 令牌缓存查询计数，标签: outcome (hit/miss)
	MetricCacheLookups = "auth_cache_lookups_total"
)

// maxCacheTTL 缓存条目的默认存活上限，实际过期时间由 SetExpiresAfter 覆盖
const maxCacheTTL = 24 * time.Hour

// Authenticator 令牌认证器，并发安全
type Authenticator struct {
	cfg      Config
	verifier Verifier
	mapper   *Mapper
	cache    *otter.Cache[string, *Principal]
	logger   clog.Logger

	validated metrics.Counter
	lookups   metrics.Counter
}

// New 创建 Authenticator
func New(cfg *Config, opts ...Option) (*Authenticator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	c := *cfg
	c.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	verifier := o.verifier
	if verifier == nil {
		jv, err := NewJWTVerifier(&c)
		if err != nil {
			return nil, err
		}
		verifier = jv
	}

	mapper, err := NewMapper(&c.Claims)
	if err != nil {
		return nil, err
	}

	a := &Authenticator{
		cfg:      c,
		verifier: verifier,
		mapper:   mapper,
		logger:   o.logger,
	}

	if c.CacheSize > 0 {
		a.cache, err = otter.New(&otter.Options[string, *Principal]{
			MaximumSize:      c.CacheSize,
			StatsRecorder:    stats.NewCounter(),
			ExpiryCalculator: otter.ExpiryWriting[string, *Principal](maxCacheTTL),
		})
		if err != nil {
			return nil, xerrors.Wrap(err, "failed to build token cache")
		}
	}

	if a.validated, err = o.meter.Counter(MetricTokensValidated, "Number of token validations by status."); err != nil {
		return nil, err
	}
	if a.lookups, err = o.meter.Counter(MetricCacheLookups, "Number of verified-token cache lookups."); err != nil {
		return nil, err
	}
	return a, nil
}

// Mapper 声明映射器
func (a *Authenticator) Mapper() *Mapper {
	return a.mapper
}

// Authenticate 校验令牌并返回 Principal
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	if a.cache != nil {
		if p, ok := a.cache.GetIfPresent(token); ok {
			a.lookups.Inc(ctx, metrics.L(metrics.LabelOutcome, "hit"))
			return p, nil
		}
		a.lookups.Inc(ctx, metrics.L(metrics.LabelOutcome, "miss"))
	}

	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.fail(ctx, err)
		return nil, err
	}
	p, err := a.mapper.Map(claims)
	if err != nil {
		a.fail(ctx, err)
		return nil, err
	}

	a.validated.Inc(ctx, metrics.L("status", metrics.OutcomeSuccess))
	a.logger.DebugContext(ctx, "token validated",
		clog.String("subject", p.Subject),
		clog.Strings("authorities", p.AuthorityStrings()))

	if a.cache != nil {
		if ttl := remaining(claims); ttl > 0 {
			a.cache.Set(token, p)
			a.cache.SetExpiresAfter(token, ttl)
		}
	}
	return p, nil
}

func (a *Authenticator) fail(ctx context.Context, err error) {
	a.validated.Inc(ctx, metrics.L("status", metrics.OutcomeError), metrics.L(metrics.LabelReason, errorCode(err)))
	a.logger.InfoContext(ctx, "token rejected", clog.Error(err))
}

// remaining 令牌剩余有效期，无 exp 时返回 0
func remaining(claims map[string]any) time.Duration {
	exp, err := jwt.MapClaims(claims).GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return time.Until(exp.Time)
}

// ExtractToken 按 TokenLookup 从请求中提取令牌
func (a *Authenticator) ExtractToken(r *http.Request) (string, error) {
	source, key, _ := strings.Cut(a.cfg.TokenLookup, ":")

	switch source {
	case "header":
		header := r.Header.Get(key)
		if header == "" {
			return "", ErrMissingToken
		}
		// 其他认证方案（如 Basic）不属于本认证器，按未携带令牌处理
		scheme, token, _ := strings.Cut(header, " ")
		if !strings.EqualFold(scheme, a.cfg.TokenHeadName) {
			return "", ErrMissingToken
		}
		if strings.TrimSpace(token) == "" {
			return "", ErrInvalidToken
		}
		return strings.TrimSpace(token), nil

	case "query":
		if token := r.URL.Query().Get(key); token != "" {
			return token, nil
		}
		return "", ErrMissingToken

	case "cookie":
		cookie, err := r.Cookie(key)
		if err != nil || cookie.Value == "" {
			return "", ErrMissingToken
		}
		return cookie.Value, nil
	}
	return "", ErrMissingToken
}
