// Package metrics 为 gatekeeper 提供统一的指标收集能力。
// 基于 OpenTelemetry 指标 API，通过 Prometheus exporter 暴露，提供 Counter、Gauge、Histogram 三类指标。
//
// 快速开始：
//
//	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "gateway"})
//	if err != nil {
//	    return err
//	}
//	defer meter.Shutdown(ctx)
//
//	calls, _ := meter.Counter("breaker_calls_total", "熔断器调用总数")
//	calls.Inc(ctx, metrics.L("breaker", "inventory"), metrics.L("outcome", "success"))
//
//	// 挂载 /metrics
//	engine.GET("/metrics", gin.WrapH(meter.Handler()))
package metrics

import (
	"context"
	"net/http"
)

// Counter 只增不减的累计值，例如请求数、熔断拒绝次数
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)
	// Add 将计数器增加给定的值，负数会被忽略
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 可任意增减的瞬时值，例如熔断器状态、失败率
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 记录值的分布，例如调用耗时
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂，创建的指标可并发使用
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 抓取端点，Discard 实现返回 404
	Handler() http.Handler

	// Shutdown 刷新并关闭底层 MeterProvider
	Shutdown(ctx context.Context) error
}

// MetricOption 指标创建选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标选项
type MetricOptions struct {
	Unit    string    // UCUM 单位，例如 "s"、"By"
	Buckets []float64 // 直方图桶边界，仅对 Histogram 生效
}

// WithUnit 设置指标单位
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图的显式桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}

// Label 指标标签。避免使用请求 ID、用户 ID 这类高基数值。
type Label struct {
	Key   string
	Value string
}

// L 创建一个 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
