package filter

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ceyewan/gatekeeper/clog"
)

// DefaultCorrelationOrder 关联令牌过滤器的默认顺序
const DefaultCorrelationOrder = 100

// AttrCorrelationToken 关联令牌在 Context 属性中的键
const AttrCorrelationToken = "correlation_token"

// CorrelationConfig 关联令牌配置
type CorrelationConfig struct {
	Header string `mapstructure:"header"` // 请求头与响应头名称，默认 token
	Cookie string `mapstructure:"cookie"` // 响应 Cookie 名称，默认与 Header 相同
	Order  int    `mapstructure:"order"`  // 默认 100
}

func (c *CorrelationConfig) setDefaults() {
	if c.Header == "" {
		c.Header = "token"
	}
	if c.Cookie == "" {
		c.Cookie = c.Header
	}
	if c.Order == 0 {
		c.Order = DefaultCorrelationOrder
	}
}

// CorrelationFilter 为每个请求生成关联令牌：
// 转发前写入请求头与响应头，响应返回后以同一个值写入 Cookie。
type CorrelationFilter struct {
	cfg      CorrelationConfig
	generate func() string
	logger   clog.Logger
}

// NewCorrelationFilter 创建关联令牌过滤器
func NewCorrelationFilter(cfg *CorrelationConfig, opts ...Option) *CorrelationFilter {
	var c CorrelationConfig
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	o := applyOptions(opts)
	return &CorrelationFilter{cfg: c, generate: uuid.NewString, logger: o.logger}
}

func (f *CorrelationFilter) Name() string { return "correlation" }
func (f *CorrelationFilter) Order() int   { return f.cfg.Order }

func (f *CorrelationFilter) Filter(fc *Context, next Next) error {
	token := f.generate()
	fc.Set(AttrCorrelationToken, token)

	fc.Request.Header.Set(f.cfg.Header, token)
	fc.Response.Header.Set(f.cfg.Header, token)
	fc.Request = fc.Request.WithContext(clog.ContextWithFields(fc.Context(), clog.String(AttrCorrelationToken, token)))

	f.logger.DebugContext(fc.Context(), "correlation token added", clog.String("path", fc.Path()))

	err := next()

	// 短路或上游的响应头可能覆盖了令牌，这里重新写回
	fc.Response.Header.Set(f.cfg.Header, token)
	fc.Response.SetCookie(&http.Cookie{Name: f.cfg.Cookie, Value: token, Path: "/", HttpOnly: true})
	return err
}
