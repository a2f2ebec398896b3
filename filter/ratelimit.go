package filter

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// DefaultRateLimitOrder 限流过滤器的默认顺序，在关联令牌之后
const DefaultRateLimitOrder = 200

// MetricFilterRejections 过滤器短路拒绝的请求数 (Counter)
const MetricFilterRejections = "gateway_filter_rejections_total"

// CodeRateLimited 限流错误码
const CodeRateLimited = "RATE_LIMITED"

// ErrInvalidLimit 限流参数不合法
var ErrInvalidLimit = xerrors.New("filter: invalid rate limit")

// RateLimitConfig 按调用方限流配置
//
//	rate_limit:
//	  rate: 50   # 每秒令牌数
//	  burst: 100
type RateLimitConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
	Order int     `mapstructure:"order"` // 默认 200
	// IdleTimeout 调用方的限流器空闲多久后回收，默认 10m
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

func (c *RateLimitConfig) setDefaults() {
	if c.Burst == 0 {
		c.Burst = int(math.Max(1, math.Ceil(c.Rate)))
	}
	if c.Order == 0 {
		c.Order = DefaultRateLimitOrder
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
}

func (c *RateLimitConfig) validate() error {
	if c.Rate <= 0 || c.Burst <= 0 {
		return xerrors.Wrapf(ErrInvalidLimit, "rate=%v burst=%d", c.Rate, c.Burst)
	}
	return nil
}

// KeyFunc 从请求中提取限流键，返回空字符串时不限流
type KeyFunc func(fc *Context) string

// ClientIPKey 以客户端 IP 作为限流键，见 Context.ClientIP
func ClientIPKey(fc *Context) string {
	return fc.ClientIP()
}

// PrincipalKey 已认证请求以主体限流，匿名请求回退到客户端 IP
func PrincipalKey(fc *Context) string {
	if p := fc.Principal(); p != nil {
		return "principal:" + p.Subject
	}
	return ClientIPKey(fc)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitFilter 令牌桶限流，超限时以 429 短路
type RateLimitFilter struct {
	cfg    RateLimitConfig
	key    KeyFunc
	logger clog.Logger
	now    func() time.Time

	rejected metrics.Counter

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

// NewRateLimitFilter 创建限流过滤器，key 为 nil 时使用 ClientIPKey
func NewRateLimitFilter(cfg *RateLimitConfig, key KeyFunc, opts ...Option) (*RateLimitFilter, error) {
	if cfg == nil {
		return nil, ErrInvalidLimit
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	if key == nil {
		key = ClientIPKey
	}

	o := applyOptions(opts)
	rejected, err := o.meter.Counter(MetricFilterRejections, "Number of requests short-circuited by a filter.")
	if err != nil {
		return nil, err
	}

	return &RateLimitFilter{
		cfg:      c,
		key:      key,
		logger:   o.logger,
		now:      time.Now,
		rejected: rejected,
		limiters: make(map[string]*limiterEntry),
	}, nil
}

func (f *RateLimitFilter) Name() string { return "rate_limit" }
func (f *RateLimitFilter) Order() int   { return f.cfg.Order }

func (f *RateLimitFilter) Filter(fc *Context, next Next) error {
	key := f.key(fc)
	if key == "" {
		return next()
	}

	now := f.now()
	if f.limiter(key, now).AllowN(now, 1) {
		return next()
	}

	f.rejected.Inc(fc.Context(),
		metrics.L(metrics.LabelFilter, f.Name()),
		metrics.L(metrics.LabelReason, "rate_limited"))
	f.logger.InfoContext(fc.Context(), "request rate limited",
		clog.String("key", key),
		clog.String("path", fc.Path()))

	body, _ := json.Marshal(map[string]string{"code": CodeRateLimited, "error": "rate limit exceeded"})
	fc.Response.Header.Set("Retry-After", strconv.Itoa(int(math.Ceil(1/f.cfg.Rate))))
	fc.Response.Header.Set("X-RateLimit-Limit", strconv.FormatFloat(f.cfg.Rate, 'f', -1, 64))
	fc.Respond(http.StatusTooManyRequests, "application/json; charset=utf-8", body)
	return nil
}

// limiter 返回调用方的令牌桶，并顺带回收空闲的令牌桶
func (f *RateLimitFilter) limiter(key string, now time.Time) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastSweep) >= f.cfg.IdleTimeout {
		for k, e := range f.limiters {
			if now.Sub(e.lastSeen) >= f.cfg.IdleTimeout {
				delete(f.limiters, k)
			}
		}
		f.lastSweep = now
	}

	e, ok := f.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(f.cfg.Rate), f.cfg.Burst)}
		f.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Len 当前跟踪的调用方数量
func (f *RateLimitFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.limiters)
}
