package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ceyewan/gatekeeper/xerrors"
)

const (
	MetricHTTPRequestsTotal   = "gateway_http_requests_total"
	MetricHTTPRequestDuration = "gateway_http_request_duration_seconds"
)

// DefaultDurationBuckets 适用于网关转发耗时的桶边界（秒）
var DefaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8}

// HTTPMetrics 网关入口的 RED 指标集
type HTTPMetrics struct {
	service  string
	requests Counter
	duration Histogram
}

// NewHTTPMetrics 在 m 上注册请求计数与耗时直方图
func NewHTTPMetrics(m Meter, service string) (*HTTPMetrics, error) {
	if m == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "metrics: meter is nil")
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "gatekeeper"
	}

	requests, err := m.Counter(MetricHTTPRequestsTotal, "Total number of requests handled by the gateway.")
	if err != nil {
		return nil, xerrors.Wrap(err, "metrics: create request counter")
	}
	duration, err := m.Histogram(MetricHTTPRequestDuration, "Gateway request duration in seconds.",
		WithUnit("s"), WithBuckets(DefaultDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "metrics: create request histogram")
	}

	return &HTTPMetrics{service: service, requests: requests, duration: duration}, nil
}

// Observe 记录一次请求，route 为空时归入 UnknownRoute
func (m *HTTPMetrics) Observe(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if strings.TrimSpace(route) == "" {
		route = UnknownRoute
	}

	labels := []Label{
		L(LabelService, m.service),
		L(LabelMethod, method),
		L(LabelRoute, route),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.requests.Inc(ctx, labels...)
	m.duration.Record(ctx, elapsed.Seconds(), labels...)
}
