package filter

import (
	"context"
	"net"
	"net/http"

	"github.com/ceyewan/gatekeeper/auth"
)

// Response 缓冲的响应，由终端处理器或短路的过滤器写入，链结束后统一输出
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// SetCookie 添加 Set-Cookie 响应头
func (r *Response) SetCookie(c *http.Cookie) {
	if v := c.String(); v != "" {
		r.Header.Add("Set-Cookie", v)
	}
}

// Cookies 解析已设置的响应 Cookie
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// WriteTo 将响应写入 w，Status 为 0 时按 200 输出
func (r *Response) WriteTo(w http.ResponseWriter) error {
	dst := w.Header()
	for k, vs := range r.Header {
		dst[k] = append(dst[k][:0:0], vs...)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) == 0 {
		return nil
	}
	_, err := w.Write(r.Body)
	return err
}

// Context 单个请求在过滤器链中的状态，不跨请求共享
type Context struct {
	// Request 过滤器可以修改请求头，或用 WithContext 替换整个请求
	Request  *http.Request
	Response *Response

	principal *auth.Principal
	clientIP  string
	attrs     map[string]any
}

// NewContext 为请求创建过滤器上下文，Principal 取自请求 Context
func NewContext(r *http.Request) *Context {
	return &Context{
		Request:   r,
		Response:  &Response{Header: make(http.Header)},
		principal: auth.PrincipalFromContext(r.Context()),
	}
}

// Context 请求的 context.Context
func (c *Context) Context() context.Context {
	return c.Request.Context()
}

// Method 请求方法
func (c *Context) Method() string {
	return c.Request.Method
}

// Path 请求路径
func (c *Context) Path() string {
	return c.Request.URL.Path
}

// Principal 当前调用方，匿名请求为 nil
func (c *Context) Principal() *auth.Principal {
	return c.principal
}

// SetPrincipal 设置调用方
func (c *Context) SetPrincipal(p *auth.Principal) {
	c.principal = p
}

// ClientIP 客户端 IP。未由入口设置时取 RemoteAddr 的主机部分，不信任任何转发头
func (c *Context) ClientIP() string {
	if c.clientIP != "" {
		return c.clientIP
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// SetClientIP 由入口设置已按可信代理解析过的客户端 IP
func (c *Context) SetClientIP(ip string) {
	c.clientIP = ip
}

// Set 保存请求级属性
func (c *Context) Set(key string, value any) {
	if c.attrs == nil {
		c.attrs = make(map[string]any)
	}
	c.attrs[key] = value
}

// Get 读取请求级属性
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.attrs[key]
	return v, ok
}

// GetString 读取字符串属性
func (c *Context) GetString(key string) string {
	s, _ := c.attrs[key].(string)
	return s
}

// Respond 写入完整响应，用于短路
func (c *Context) Respond(status int, contentType string, body []byte) {
	c.Response.Status = status
	if contentType != "" {
		c.Response.Header.Set("Content-Type", contentType)
	}
	c.Response.Body = body
}
