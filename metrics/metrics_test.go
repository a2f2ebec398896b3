package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Meter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNewDisabledReturnsDiscard(t *testing.T) {
	m, err := New(&Config{Enabled: false})
	require.NoError(t, err)

	c, err := m.Counter("x_total", "x")
	require.NoError(t, err)
	c.Inc(context.Background())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMeterExportsInstruments(t *testing.T) {
	ctx := context.Background()
	m, err := New(&Config{Enabled: true, ServiceName: "gateway-test"})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	calls, err := m.Counter("breaker_calls_total", "calls")
	require.NoError(t, err)
	calls.Inc(ctx, L(LabelBreaker, "inventory"), L(LabelOutcome, OutcomeSuccess))
	calls.Add(ctx, 2, L(LabelBreaker, "inventory"), L(LabelOutcome, OutcomeSuccess))
	calls.Add(ctx, -5, L(LabelBreaker, "inventory"), L(LabelOutcome, OutcomeSuccess))

	state, err := m.Gauge("breaker_state", "state")
	require.NoError(t, err)
	state.Inc(ctx, L(LabelBreaker, "inventory"))
	state.Inc(ctx, L(LabelBreaker, "inventory"))
	state.Dec(ctx, L(LabelBreaker, "inventory"))

	latency, err := m.Histogram("breaker_call_duration_seconds", "latency", WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)
	latency.Record(ctx, 0.05, L(LabelBreaker, "inventory"))

	body := scrape(t, m)
	assert.Contains(t, body, "breaker_calls_total{")
	assert.Contains(t, body, `outcome="success"`)
	assert.Contains(t, body, "breaker_state{")
	assert.Contains(t, body, `breaker="inventory"`)
	assert.Contains(t, body, "breaker_call_duration_seconds_bucket")
	assert.Contains(t, body, `le="0.1"`)
}

func TestHTTPStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", HTTPStatusClass(200))
	assert.Equal(t, "4xx", HTTPStatusClass(429))
	assert.Equal(t, "5xx", HTTPStatusClass(503))
	assert.Equal(t, "unknown", HTTPStatusClass(42))
	assert.Equal(t, OutcomeSuccess, HTTPOutcome(302))
	assert.Equal(t, OutcomeError, HTTPOutcome(401))
}

type captureCounter struct{ records [][]Label }

func (c *captureCounter) Inc(_ context.Context, labels ...Label) {
	c.records = append(c.records, append([]Label(nil), labels...))
}

func (c *captureCounter) Add(ctx context.Context, _ float64, labels ...Label) { c.Inc(ctx, labels...) }

type captureHistogram struct{ values []float64 }

func (h *captureHistogram) Record(_ context.Context, v float64, _ ...Label) {
	h.values = append(h.values, v)
}

func labelValue(labels []Label, key string) string {
	for _, l := range labels {
		if l.Key == key {
			return l.Value
		}
	}
	return ""
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	counter := &captureCounter{}
	histogram := &captureHistogram{}
	m := &HTTPMetrics{service: "gw", requests: counter, duration: histogram}

	router := gin.New()
	router.Use(GinMiddleware(m))
	router.GET("/api/items/:id", func(c *gin.Context) {
		time.Sleep(time.Millisecond)
		c.Status(http.StatusForbidden)
	})

	for _, path := range []string{"/api/items/7", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, counter.records, 2)
	assert.Equal(t, "/api/items/:id", labelValue(counter.records[0], LabelRoute))
	assert.Equal(t, "4xx", labelValue(counter.records[0], LabelStatusClass))
	assert.Equal(t, OutcomeError, labelValue(counter.records[0], LabelOutcome))
	assert.Equal(t, UnknownRoute, labelValue(counter.records[1], LabelRoute))
	assert.Equal(t, "gw", labelValue(counter.records[1], LabelService))
	require.Len(t, histogram.values, 2)
	assert.Greater(t, histogram.values[0], 0.0)
}

func TestGinMiddlewareNilMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware(nil))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewHTTPMetricsNilMeter(t *testing.T) {
	_, err := NewHTTPMetrics(nil, "gw")
	assert.Error(t, err)

	m, err := NewHTTPMetrics(Discard(), "")
	require.NoError(t, err)
	assert.Equal(t, "gatekeeper", m.service)
}
