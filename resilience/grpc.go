package resilience

import (
	"context"
	"reflect"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/ceyewan/gatekeeper/xerrors"
)

// GRPCFallback gRPC 调用的降级函数，可直接填充 reply；返回 nil 表示降级成功
type GRPCFallback func(ctx context.Context, method string, req, reply any, reason error) error

// InterceptorOption 拦截器选项
type InterceptorOption func(*interceptorOptions)

type interceptorOptions struct {
	keyFunc  KeyFunc
	fallback GRPCFallback
}

// WithKeyFunc 设置资源名提取方式，默认 ServiceLevelKey
func WithKeyFunc(fn KeyFunc) InterceptorOption {
	return func(o *interceptorOptions) {
		if fn != nil {
			o.keyFunc = fn
		}
	}
}

// WithGRPCFallback 设置降级函数
func WithGRPCFallback(fn GRPCFallback) InterceptorOption {
	return func(o *interceptorOptions) {
		o.fallback = fn
	}
}

// UnaryClientInterceptor 为 gRPC 客户端一元调用加上熔断、时限与降级。
//
//	conn, _ := grpc.NewClient(target,
//	    grpc.WithStatsHandler(trace.GRPCClientStatsHandler()),
//	    grpc.WithUnaryInterceptor(resilience.UnaryClientInterceptor(exec)),
//	)
//
// 未配置降级时，返回的错误转换为 gRPC 状态：熔断拒绝为 Unavailable，超时为 DeadlineExceeded，
// 下游错误保留原始状态。
func UnaryClientInterceptor(e *Executor, opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	o := &interceptorOptions{keyFunc: ServiceLevelKey()}
	for _, opt := range opts {
		opt(o)
	}

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		key := o.keyFunc(ctx, method, cc)
		if key == "" {
			return invoker(ctx, method, req, reply, cc, callOpts...)
		}

		var fb Fallback[any]
		if o.fallback != nil {
			fb = func(ctx context.Context, reason error) (any, error) {
				return nil, o.fallback(ctx, method, req, reply, reason)
			}
		}

		// 主调用写入独立的 reply，超时后仍在运行的调用不会影响调用方
		out, err := Execute(ctx, e, key, func(ctx context.Context) (any, error) {
			fresh := newReply(reply)
			if err := invoker(ctx, method, req, fresh, cc, callOpts...); err != nil {
				return nil, err
			}
			return fresh, nil
		}, fb)
		if err == nil && out != nil {
			deliver(reply, out)
		}
		return toStatus(err)
	}
}

// newReply 分配与 reply 同类型的空消息；reply 为 nil 时原样返回
func newReply(reply any) any {
	if m, ok := reply.(proto.Message); ok {
		return m.ProtoReflect().New().Interface()
	}
	v := reflect.ValueOf(reply)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reply
	}
	return reflect.New(v.Type().Elem()).Interface()
}

// deliver 把主调用的结果复制到调用方的 reply
func deliver(dst, src any) {
	if dst == nil || dst == src {
		return
	}
	if m, ok := dst.(proto.Message); ok {
		proto.Reset(m)
		proto.Merge(m, src.(proto.Message))
		return
	}
	reflect.ValueOf(dst).Elem().Set(reflect.ValueOf(src).Elem())
}

// toStatus 将执行器错误转换为 gRPC 状态错误
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var (
		failed     *FallbackFailedError
		downstream *DownstreamError
	)
	switch {
	case xerrors.As(err, &failed):
		if s, ok := status.FromError(failed.Fallback); ok {
			return s.Err()
		}
		return status.Error(codes.Unavailable, err.Error())
	case xerrors.As(err, &downstream):
		return downstream.Cause
	case IsRejected(err):
		return status.Error(codes.Unavailable, err.Error())
	case IsTimeout(err):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case xerrors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case xerrors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return err
}
