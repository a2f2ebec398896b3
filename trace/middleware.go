package trace

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc/stats"
)

// GinMiddleware 网关入口的追踪中间件，从请求头提取上游 TraceContext
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// GRPCClientStatsHandler 下游 gRPC 调用的追踪 stats handler，
// 与 resilience.UnaryClientInterceptor 搭配使用
func GRPCClientStatsHandler() stats.Handler {
	return otelgrpc.NewClientHandler()
}
