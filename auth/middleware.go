package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/gatekeeper/clog"
	"github.com/ceyewan/gatekeeper/trace"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// PrincipalKey gin.Context 中保存 Principal 的键
const PrincipalKey = "auth:principal"

type principalKey struct{}

// WithPrincipal 将 Principal 写入 Context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext 读取 Principal，匿名请求返回 nil
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// GetPrincipal 从 gin.Context 读取 Principal
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok && p != nil
}

// GinMiddleware 返回 Gin 认证中间件。
//
// 未携带令牌的请求以匿名身份继续，由授权策略决定是否放行；
// 携带了令牌但校验失败时直接返回 401。
func (a *Authenticator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := a.ExtractToken(c.Request)
		if xerrors.Is(err, ErrMissingToken) {
			c.Next()
			return
		}

		var p *Principal
		if err == nil {
			p, err = a.Authenticate(c.Request.Context(), token)
		}
		if err != nil {
			AbortUnauthenticated(c, err)
			return
		}

		ctx := WithPrincipal(c.Request.Context(), p)
		ctx = clog.ContextWithFields(ctx, clog.String("principal", p.Subject))
		c.Request = c.Request.WithContext(ctx)
		c.Set(PrincipalKey, p)
		oteltrace.SpanFromContext(ctx).SetAttributes(attribute.String(trace.AttrPrincipal, p.Subject))
		c.Next()
	}
}

// AbortUnauthenticated 以 401 结束请求
func AbortUnauthenticated(c *gin.Context, err error) {
	if err == nil {
		err = ErrUnauthenticated
	}
	c.Header("WWW-Authenticate", `Bearer realm="gatekeeper"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":  xerrors.CodeOr(err, errorCode(err)),
		"error": err.Error(),
	})
}
