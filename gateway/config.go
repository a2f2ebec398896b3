package gateway

import (
	"net/url"
	"strings"
	"time"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/filter"
	"github.com/ceyewan/gatekeeper/policy"
	"github.com/ceyewan/gatekeeper/resilience"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// ErrInvalidConfig 网关配置不合法
var ErrInvalidConfig = xerrors.New("gateway: invalid config")

// DefaultMaxBodyBytes 缓冲的上游响应体上限
const DefaultMaxBodyBytes = 10 << 20

// Config 网关配置
//
//	gateway:
//	  name: gatekeeper
//	  addr: ":8090"
//	  admin_addr: ":8091"
//	  routes:
//	    - id: items
//	      prefix: /api/items
//	      upstream: http://localhost:8002
//	      strip_prefix: 2
//	      breaker: true
type Config struct {
	Name            string        `mapstructure:"name"`             // 服务名，默认 gatekeeper
	Addr            string        `mapstructure:"addr"`             // 默认 :8090
	AdminAddr       string        `mapstructure:"admin_addr"`       // 管理端口，默认 :8091，"-" 表示挂在主端口
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 默认 10s
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`   // 默认 10MiB
	// TrustedProxies 可信代理（IP 或 CIDR），只有来自它们的 X-Forwarded-For 才用于解析客户端 IP；为空时不信任任何代理
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	Routes []RouteConfig `mapstructure:"routes"`
	// Rules 授权规则，为空时使用 policy.DefaultRules
	Rules []policy.RuleConfig `mapstructure:"rules"`

	Auth        auth.Config              `mapstructure:"auth"`
	Breaker     breaker.Config           `mapstructure:"breaker"`
	Resilience  resilience.Config        `mapstructure:"resilience"`
	Correlation filter.CorrelationConfig `mapstructure:"correlation"`
	// RateLimit 按调用方限流，为空时不限流
	RateLimit *filter.RateLimitConfig `mapstructure:"rate_limit"`
}

// RouteConfig 一条转发路由
type RouteConfig struct {
	ID       string `mapstructure:"id"`
	Prefix   string `mapstructure:"prefix"`   // 路径前缀，按段匹配
	Upstream string `mapstructure:"upstream"` // 上游基础 URL
	// StripPrefix 转发前去掉的前导路径段数
	StripPrefix int `mapstructure:"strip_prefix"`
	// Breaker 是否经熔断器与时间限制转发，熔断器名为路由 ID
	Breaker bool `mapstructure:"breaker"`
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "gatekeeper"
	}
	if c.Addr == "" {
		c.Addr = ":8090"
	}
	if c.AdminAddr == "" {
		c.AdminAddr = ":8091"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(c.Rules) == 0 {
		c.Rules = policy.DefaultRules()
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Routes))
	for i, r := range c.Routes {
		if strings.TrimSpace(r.ID) == "" {
			return xerrors.Wrapf(ErrInvalidConfig, "routes[%d]: id is required", i)
		}
		if _, dup := seen[r.ID]; dup {
			return xerrors.Wrapf(ErrInvalidConfig, "routes[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}

		if !strings.HasPrefix(r.Prefix, "/") {
			return xerrors.Wrapf(ErrInvalidConfig, "routes[%d]: prefix must start with /", i)
		}
		u, err := url.Parse(r.Upstream)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return xerrors.Wrapf(ErrInvalidConfig, "routes[%d]: invalid upstream %q", i, r.Upstream)
		}
		if r.StripPrefix < 0 {
			return xerrors.Wrapf(ErrInvalidConfig, "routes[%d]: strip_prefix must not be negative", i)
		}
	}
	return nil
}

// adminOnMain 管理接口是否挂在主端口
func (c *Config) adminOnMain() bool {
	return c.AdminAddr == "-"
}
