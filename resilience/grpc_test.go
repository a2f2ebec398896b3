package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/trace"
)

const testMethod = "/items.v1.ItemService/GetItem"

func newTestConn(t *testing.T) *grpc.ClientConn {
	t.Helper()
	cc, err := grpc.NewClient("passthrough:///items",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(trace.GRPCClientStatsHandler()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestKeyFuncs(t *testing.T) {
	cc := newTestConn(t)
	ctx := context.Background()

	assert.Equal(t, "passthrough:///items", ServiceLevelKey()(ctx, testMethod, cc))
	assert.Equal(t, testMethod, MethodLevelKey()(ctx, testMethod, cc))
	assert.Equal(t, "items.v1.ItemService", ServiceNameKey()(ctx, testMethod, cc))
	assert.Equal(t, "fixed", StaticKey("fixed")(ctx, testMethod, cc))
	assert.Equal(t, "passthrough:///items@"+testMethod, CompositeKey(ServiceLevelKey(), MethodLevelKey())(ctx, testMethod, cc))
	assert.Equal(t, "a|b", CompositeKeyWithSeparator("|", StaticKey("a"), StaticKey("b"))(ctx, testMethod, cc))

	assert.Equal(t, "passthrough:///items", BackendLevelKey()(ctx, testMethod, cc))
	withPeer := peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr("10.0.0.1:9001")})
	assert.Equal(t, "10.0.0.1:9001", BackendLevelKey()(withPeer, testMethod, cc))
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func TestUnaryClientInterceptorStatusMapping(t *testing.T) {
	exec, reg := newTestExecutor(t, breaker.Policy{SlidingWindowSize: 1}, nil)
	cc := newTestConn(t)
	interceptor := UnaryClientInterceptor(exec, WithKeyFunc(MethodLevelKey()))

	unavailable := func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return status.Error(codes.Unavailable, "backend down")
	}

	err := interceptor(context.Background(), testMethod, nil, nil, cc, unavailable)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "backend down")

	cb, _ := reg.Get(testMethod)
	require.Equal(t, breaker.StateOpen, cb.State())

	var called bool
	err = interceptor(context.Background(), testMethod, nil, nil, cc,
		func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
			called = true
			return nil
		})
	assert.False(t, called)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, err.Error(), "circuit breaker is open")
}

func TestUnaryClientInterceptorFallback(t *testing.T) {
	exec, _ := newTestExecutor(t, breaker.Policy{}, nil)
	cc := newTestConn(t)

	type reply struct{ Name string }
	interceptor := UnaryClientInterceptor(exec, WithGRPCFallback(
		func(_ context.Context, method string, _, r any, reason error) error {
			r.(*reply).Name = "fallback for " + method
			return nil
		}))

	out := &reply{}
	err := interceptor(context.Background(), testMethod, nil, out, cc,
		func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
			return status.Error(codes.Internal, "boom")
		})
	require.NoError(t, err)
	assert.Equal(t, "fallback for "+testMethod, out.Name)
}

// TestUnaryClientInterceptorLateReplyDiscarded 超时后仍在运行的调用不得写入调用方的 reply
func TestUnaryClientInterceptorLateReplyDiscarded(t *testing.T) {
	exec, _ := newTestExecutor(t, breaker.Policy{}, &Config{Timeout: 20 * time.Millisecond})
	cc := newTestConn(t)
	interceptor := UnaryClientInterceptor(exec, WithGRPCFallback(
		func(_ context.Context, _ string, _, r any, _ error) error {
			r.(*wrapperspb.StringValue).Value = "fallback"
			return nil
		}))

	finished := make(chan struct{})
	slow := func(_ context.Context, _ string, _, r any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		defer close(finished)
		time.Sleep(60 * time.Millisecond)
		r.(*wrapperspb.StringValue).Value = "late-primary"
		return nil
	}

	out := &wrapperspb.StringValue{}
	err := interceptor(context.Background(), testMethod, nil, out, cc, slow)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.GetValue())

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("slow invoker did not finish")
	}
	assert.Equal(t, "fallback", out.GetValue(), "超时后的结果不应送达调用方")
}

func TestUnaryClientInterceptorDeliversReply(t *testing.T) {
	exec, _ := newTestExecutor(t, breaker.Policy{}, nil)
	cc := newTestConn(t)
	interceptor := UnaryClientInterceptor(exec)

	out := &wrapperspb.StringValue{Value: "stale"}
	err := interceptor(context.Background(), testMethod, nil, out, cc,
		func(_ context.Context, _ string, _, r any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			r.(*wrapperspb.StringValue).Value = "primary"
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "primary", out.GetValue())

	type plain struct{ Name string }
	p := &plain{}
	err = interceptor(context.Background(), testMethod, nil, p, cc,
		func(_ context.Context, _ string, _, r any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			r.(*plain).Name = "copied"
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "copied", p.Name)
}

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(ErrTimedOut)))
	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled)))
	assert.Equal(t, codes.Unavailable, status.Code(toStatus(&FallbackFailedError{Original: ErrTimedOut, Fallback: context.DeadlineExceeded})))
	assert.Equal(t, codes.NotFound, status.Code(toStatus(&FallbackFailedError{
		Original: ErrTimedOut, Fallback: status.Error(codes.NotFound, "gone"),
	})))
}
