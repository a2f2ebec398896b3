package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RouteKey 处理器可在 gin.Context 中设置该键，覆盖路由标签
const RouteKey = "metrics:route"

// GinMiddleware 记录每个请求的 RED 指标。路由标签优先取 RouteKey，其次是 gin 的 FullPath，
// 未命中路由时收敛为 UnknownRoute，避免原始路径进入标签。
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		route := c.GetString(RouteKey)
		if route == "" {
			route = c.FullPath()
		}
		if route == "" {
			route = UnknownRoute
		}
		m.Observe(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
