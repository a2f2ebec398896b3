package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/filter"
	"github.com/ceyewan/gatekeeper/metrics"
	"github.com/ceyewan/gatekeeper/resilience"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// AttrRoute 命中的路由 ID 在过滤器上下文中的键
const AttrRoute = "route"

// HeaderFallback 降级响应携带的头，值为降级原因
const HeaderFallback = "X-Gateway-Fallback"

// 错误码
const (
	CodeRouteNotFound       = "ROUTE_NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeBadGateway          = "BAD_GATEWAY"
)

// errBodyTooLarge 上游响应体超过缓冲上限
var errBodyTooLarge = xerrors.New("gateway: upstream response too large")

// errCopyAborted 复制上游响应体时连接中断
var errCopyAborted = xerrors.New("gateway: upstream response copy aborted")

// upstreamStatusError 上游返回 5xx，经熔断器转发时计为失败
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("gateway: upstream returned %d", e.status)
}

type route struct {
	cfg    RouteConfig
	prefix []string
	proxy  *httputil.ReverseProxy
}

func newRoute(cfg RouteConfig, transport http.RoundTripper, maxBody int64) (*route, error) {
	target, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInvalidConfig, "route %s: %v", cfg.ID, err)
	}

	rt := &route{cfg: cfg, prefix: segments(cfg.Prefix)}
	rt.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = stripSegments(pr.In.URL.Path, cfg.StripPrefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
			if bw, ok := w.(*bufferedWriter); ok {
				bw.err = err
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.ContentLength > maxBody {
				return errBodyTooLarge
			}
			return nil
		},
	}
	return rt, nil
}

// matches 路径是否以路由前缀开头（按段比较）
func (rt *route) matches(path string) bool {
	parts := segments(path)
	if len(parts) < len(rt.prefix) {
		return false
	}
	for i, p := range rt.prefix {
		if parts[i] != p {
			return false
		}
	}
	return true
}

// upstreamResponse 缓冲的上游响应
type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
}

// roundTrip 通过 ReverseProxy 转发并缓冲响应
func (rt *route) roundTrip(ctx context.Context, req *http.Request, maxBody int64) (resp *upstreamResponse, err error) {
	bw := &bufferedWriter{header: make(http.Header), limit: maxBody}
	defer func() {
		// ReverseProxy 在复制响应体失败时以 http.ErrAbortHandler panic
		if r := recover(); r != nil {
			if r != http.ErrAbortHandler {
				panic(r)
			}
			resp, err = nil, errCopyAborted
		}
	}()

	rt.proxy.ServeHTTP(bw, req.WithContext(ctx))
	if bw.err != nil {
		return nil, bw.err
	}
	status := bw.status
	if status == 0 {
		status = http.StatusOK
	}
	return &upstreamResponse{status: status, header: bw.header, body: bw.body.Bytes()}, nil
}

// bufferedWriter 在内存中收集 ReverseProxy 的输出
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
	limit  int64
	err    error
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if int64(w.body.Len()+len(p)) > w.limit {
		w.err = errBodyTooLarge
		return 0, errBodyTooLarge
	}
	return w.body.Write(p)
}

// forward NoRoute 处理器：匹配路由，执行过滤器链，转发到上游
func (g *Gateway) forward(c *gin.Context) {
	rt := g.match(c.Request.URL.Path)
	if rt == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": CodeRouteNotFound, "error": "no route for " + c.Request.URL.Path})
		return
	}
	c.Set(metrics.RouteKey, rt.cfg.ID)

	fc := filter.NewContext(c.Request)
	fc.SetClientIP(c.ClientIP())
	fc.Set(AttrRoute, rt.cfg.ID)

	err := g.chain.Handle(fc, func(fc *filter.Context) error {
		return g.proxy(fc, rt)
	})
	if err != nil {
		ctx := fc.Context()
		if ctx.Err() != nil {
			g.logger.DebugContext(ctx, "request canceled", clog.String("route", rt.cfg.ID))
			c.Abort()
			return
		}
		g.logger.WarnContext(ctx, "forward failed", clog.String("route", rt.cfg.ID), clog.Error(err))
		writeError(fc, http.StatusBadGateway, xerrors.CodeOr(err, CodeBadGateway), err)
	}

	if werr := fc.Response.WriteTo(c.Writer); werr != nil {
		g.logger.DebugContext(fc.Context(), "write response failed", clog.Error(werr))
	}
}

// proxy 链的终端处理器
func (g *Gateway) proxy(fc *filter.Context, rt *route) error {
	ctx := fc.Context()
	if !rt.cfg.Breaker {
		resp, err := rt.roundTrip(ctx, fc.Request, g.cfg.MaxBodyBytes)
		if err != nil {
			return err
		}
		apply(fc, resp)
		return nil
	}

	resp, err := resilience.Execute(ctx, g.executor, rt.cfg.ID,
		func(ctx context.Context) (*upstreamResponse, error) {
			resp, err := rt.roundTrip(ctx, fc.Request, g.cfg.MaxBodyBytes)
			if err != nil {
				return nil, err
			}
			if resp.status >= http.StatusInternalServerError {
				return resp, &upstreamStatusError{status: resp.status}
			}
			return resp, nil
		},
		func(ctx context.Context, reason error) (*upstreamResponse, error) {
			return fallbackResponse(rt, reason), nil
		})
	if err != nil {
		return err
	}
	apply(fc, resp)
	return nil
}

// apply 将上游响应写入过滤器上下文，保留过滤器已设置的响应头
func apply(fc *filter.Context, resp *upstreamResponse) {
	for k, vs := range resp.header {
		fc.Response.Header[k] = append(fc.Response.Header[k], vs...)
	}
	fc.Response.Status = resp.status
	fc.Response.Body = resp.body
}

// fallbackResponse 熔断、超时或上游失败时返回 503
func fallbackResponse(rt *route, reason error) *upstreamResponse {
	kind := "error"
	switch {
	case resilience.IsRejected(reason):
		kind = "breaker_open"
	case resilience.IsTimeout(reason):
		kind = "timeout"
	}
	body, _ := json.Marshal(map[string]string{
		"code":   CodeUpstreamUnavailable,
		"error":  "upstream " + rt.cfg.ID + " is unavailable",
		"reason": kind,
	})
	h := make(http.Header)
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set(HeaderFallback, kind)
	return &upstreamResponse{status: http.StatusServiceUnavailable, header: h, body: body}
}

func writeError(fc *filter.Context, status int, code string, err error) {
	body, _ := json.Marshal(map[string]string{"code": code, "error": err.Error()})
	fc.Response.Header.Del("Content-Length")
	fc.Respond(status, "application/json; charset=utf-8", body)
}

// segments 按 / 切分路径并丢弃空段
func segments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// stripSegments 去掉前 n 段，结果至少为 "/"
func stripSegments(path string, n int) string {
	if n <= 0 {
		return path
	}
	parts := segments(path)
	if n >= len(parts) {
		return "/"
	}
	out := "/" + strings.Join(parts[n:], "/")
	if strings.HasSuffix(path, "/") {
		out += "/"
	}
	return out
}
