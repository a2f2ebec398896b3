package resilience

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

// KeyFunc 从 gRPC 调用中提取资源名，即熔断器名称
type KeyFunc func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string

// ServiceLevelKey 按连接目标熔断
// 返回示例: "dns:///inventory:9090"
func ServiceLevelKey() KeyFunc {
	return func(_ context.Context, _ string, cc *grpc.ClientConn) string {
		if cc == nil {
			return ""
		}
		return cc.Target()
	}
}

// MethodLevelKey 按方法熔断
// 返回示例: "/items.v1.ItemService/GetItem"
func MethodLevelKey() KeyFunc {
	return func(_ context.Context, fullMethod string, _ *grpc.ClientConn) string {
		return fullMethod
	}
}

// ServiceNameKey 按 proto 服务名熔断
// 返回示例: "items.v1.ItemService"
func ServiceNameKey() KeyFunc {
	return func(_ context.Context, fullMethod string, _ *grpc.ClientConn) string {
		name := strings.TrimPrefix(fullMethod, "/")
		if i := strings.LastIndex(name, "/"); i > 0 {
			return name[:i]
		}
		return name
	}
}

// BackendLevelKey 按真实后端地址熔断，Peer 信息不可用时回退到连接目标
func BackendLevelKey() KeyFunc {
	fallback := ServiceLevelKey()
	return func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string {
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			if addr := p.Addr.String(); addr != "" {
				return addr
			}
		}
		return fallback(ctx, fullMethod, cc)
	}
}

// StaticKey 所有调用共用一个资源名
func StaticKey(name string) KeyFunc {
	return func(context.Context, string, *grpc.ClientConn) string {
		return name
	}
}

// CompositeKey 用 "@" 组合多个 KeyFunc
// 返回示例: "dns:///inventory:9090@/items.v1.ItemService/GetItem"
func CompositeKey(primary KeyFunc, secondary ...KeyFunc) KeyFunc {
	return CompositeKeyWithSeparator("@", append([]KeyFunc{primary}, secondary...)...)
}

// CompositeKeyWithSeparator 使用自定义分隔符组合 Key
func CompositeKeyWithSeparator(separator string, keyFuncs ...KeyFunc) KeyFunc {
	switch len(keyFuncs) {
	case 0:
		return ServiceLevelKey()
	case 1:
		return keyFuncs[0]
	}
	return func(ctx context.Context, fullMethod string, cc *grpc.ClientConn) string {
		parts := make([]string, len(keyFuncs))
		for i, kf := range keyFuncs {
			parts[i] = kf(ctx, fullMethod, cc)
		}
		return strings.Join(parts, separator)
	}
}
