package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/config"
	"github.com/ceyewan/gatekeeper/filter"
	"github.com/ceyewan/gatekeeper/policy"
	"github.com/ceyewan/gatekeeper/resilience"
	"github.com/ceyewan/gatekeeper/testkit"
	"github.com/ceyewan/gatekeeper/xerrors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoBackend 回显路径与关联令牌，并统计请求数
type echoBackend struct {
	*httptest.Server
	hits atomic.Int32
}

func newEchoBackend(t *testing.T) *echoBackend {
	t.Helper()
	b := &echoBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path":   r.URL.Path,
			"token":  r.Header.Get("token"),
			"tenant": r.Header.Get("X-Tenant"),
		})
	}))
	t.Cleanup(b.Close)
	return b
}

func baseConfig(upstream string) *Config {
	return &Config{
		AdminAddr: "-",
		Auth: auth.Config{
			SecretKey: testkit.TestSecret,
			Issuer:    testkit.TestIssuer,
		},
		Routes: []RouteConfig{
			{ID: "items", Prefix: "/api/items", Upstream: upstream, StripPrefix: 1},
		},
	}
}

func newTestGateway(t *testing.T, cfg *Config, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithLogger(testkit.NewLogger())}, opts...)
	g, err := New(cfg, opts...)
	require.NoError(t, err)
	return g
}

func do(g *Gateway, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func readToken(t *testing.T, scope string) string {
	return testkit.MintToken(t, "alice", []string{"ROLE_user"}, map[string]any{"scope": scope})
}

func TestForwardStripsPrefixAndAddsCorrelationToken(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	rec := do(g, http.MethodGet, "/api/items/42", readToken(t, "read"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "/items/42", body["path"])

	token := rec.Header().Get("token")
	require.NotEmpty(t, token)
	assert.Equal(t, token, body["token"], "上游应收到同一个关联令牌")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "token", cookies[0].Name)
	assert.Equal(t, token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestForwardPermitAllCollection(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	rec := do(g, http.MethodGet, "/api/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/items", decode(t, rec)["path"])
}

func TestRejectedRequestsNeverReachUpstream(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	tests := []struct {
		name   string
		method string
		target string
		token  string
		status int
		code   string
	}{
		{"anonymous catch-all", http.MethodGet, "/api/orders", "", http.StatusUnauthorized, policy.CodeUnauthenticated},
		{"invalid token", http.MethodGet, "/api/items", "not-a-jwt", http.StatusUnauthorized, auth.CodeUnauthenticated},
		{"anonymous scoped", http.MethodGet, "/api/items/1", "", http.StatusForbidden, policy.CodeForbidden},
		{"read cannot write", http.MethodPost, "/api/items", readToken(t, "read"), http.StatusForbidden, policy.CodeForbidden},
		{"read cannot delete", http.MethodDelete, "/api/items/1", readToken(t, "read"), http.StatusForbidden, policy.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(g, tt.method, tt.target, tt.token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
	assert.Zero(t, backend.hits.Load())

	rec := do(g, http.MethodGet, "/api/items", "not-a-jwt")
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestWriteScopeAllowed(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	rec := do(g, http.MethodDelete, "/api/items/7", readToken(t, "write"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/items/7", decode(t, rec)["path"])
	assert.EqualValues(t, 1, backend.hits.Load())
}

func TestNoRoute(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	rec := do(g, http.MethodGet, "/api/users/1", readToken(t, "read"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeRouteNotFound, decode(t, rec)["code"])
}

func TestLongestPrefixWins(t *testing.T) {
	items := newEchoBackend(t)
	special := newEchoBackend(t)
	cfg := baseConfig(items.URL)
	cfg.Routes = append(cfg.Routes, RouteConfig{ID: "special", Prefix: "/api/items/special", Upstream: special.URL, StripPrefix: 2})
	g := newTestGateway(t, cfg)

	rec := do(g, http.MethodGet, "/api/items/special", readToken(t, "read"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/special", decode(t, rec)["path"])
	assert.EqualValues(t, 1, special.hits.Load())
	assert.Zero(t, items.hits.Load())
}

func TestAuthorizedAndLogout(t *testing.T) {
	g := newTestGateway(t, baseConfig("http://127.0.0.1:1"))

	rec := do(g, http.MethodGet, "/authorized?code=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", decode(t, rec)["code"])

	rec = do(g, http.MethodGet, "/authorized", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_CODE", decode(t, rec)["code"])

	rec = do(g, http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", decode(t, rec)["message"])
}

func TestCustomFilterRunsInOrder(t *testing.T) {
	backend := newEchoBackend(t)
	tenant := filter.Func("tenant", 50, func(fc *filter.Context, next filter.Next) error {
		fc.Request.Header.Set("X-Tenant", fc.Principal().Subject)
		return next()
	})
	g := newTestGateway(t, baseConfig(backend.URL), WithFilters(tenant))

	rec := do(g, http.MethodGet, "/api/items/1", readToken(t, "read"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode(t, rec)["tenant"])
}

func TestFilterErrorCode(t *testing.T) {
	backend := newEchoBackend(t)
	errNoTenant := xerrors.New("tenant header missing")
	tenant := filter.Func("tenant", 50, func(fc *filter.Context, next filter.Next) error {
		if fc.Request.Header.Get("X-Tenant") == "" {
			return xerrors.WithCode(errNoTenant, "TENANT_REQUIRED")
		}
		return next()
	})
	g := newTestGateway(t, baseConfig(backend.URL), WithFilters(tenant))

	rec := do(g, http.MethodGet, "/api/items", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "TENANT_REQUIRED", decode(t, rec)["code"])
	assert.Zero(t, backend.hits.Load())
}

func TestBreakerRouteFallsBackAndOpens(t *testing.T) {
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(backend.Close)

	cfg := baseConfig(backend.URL)
	cfg.Routes[0].Breaker = true
	cfg.Breaker = breaker.Config{Services: map[string]breaker.Policy{
		"items": {SlidingWindowSize: 2, PermittedCallsInHalfOpenState: 1},
	}}
	clock := testkit.NewFakeClock(time.Now())
	g := newTestGateway(t, cfg, WithClock(clock), WithMeter(testkit.NewMeter(t)))

	for i := 0; i < 2; i++ {
		rec := do(g, http.MethodGet, "/api/items", "")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "error", rec.Header().Get(HeaderFallback))
	}

	rec := do(g, http.MethodGet, "/api/items", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "breaker_open", rec.Header().Get(HeaderFallback))
	assert.Equal(t, CodeUpstreamUnavailable, decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("token"), "降级响应也应带关联令牌")
	assert.EqualValues(t, 2, hits.Load(), "熔断打开后不应再访问上游")

	rec = do(g, http.MethodGet, "/actuator/breakers/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", decode(t, rec)["state"])

	rec = do(g, http.MethodPost, "/actuator/breakers/items/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", decode(t, rec)["state"])

	rec = do(g, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, name := range []string{resilience.MetricCallsTotal, resilience.MetricFallbacksTotal, policy.MetricDecisions} {
		assert.Contains(t, rec.Body.String(), name)
	}
}

func TestBreakerRouteTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(backend.Close)

	cfg := baseConfig(backend.URL)
	cfg.Routes[0].Breaker = true
	cfg.Resilience = resilience.Config{Timeouts: map[string]time.Duration{"items": 50 * time.Millisecond}}
	g := newTestGateway(t, cfg)

	start := time.Now()
	rec := do(g, http.MethodGet, "/api/items", "")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "timeout", rec.Header().Get(HeaderFallback))
	assert.Equal(t, "timeout", decode(t, rec)["reason"])
}

func TestPlainRouteUpstreamDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	g := newTestGateway(t, baseConfig(url))
	rec := do(g, http.MethodGet, "/api/items", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeBadGateway, decode(t, rec)["code"])
}

func TestUpstreamBodyLimit(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(backend.Close)

	cfg := baseConfig(backend.URL)
	cfg.MaxBodyBytes = 16
	g := newTestGateway(t, cfg)

	rec := do(g, http.MethodGet, "/api/items", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRateLimit(t *testing.T) {
	backend := newEchoBackend(t)
	cfg := baseConfig(backend.URL)
	cfg.RateLimit = &filter.RateLimitConfig{Rate: 0.001, Burst: 1}
	g := newTestGateway(t, cfg)

	assert.Equal(t, http.StatusOK, do(g, http.MethodGet, "/api/items", "").Code)
	rec := do(g, http.MethodGet, "/api/items", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.EqualValues(t, 1, backend.hits.Load())

	// 认证用户按主体单独计数
	assert.Equal(t, http.StatusOK, do(g, http.MethodGet, "/api/items", readToken(t, "read")).Code)
}

func TestRateLimitClientIP(t *testing.T) {
	backend := newEchoBackend(t)
	get := func(g *Gateway, xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	cfg := baseConfig(backend.URL)
	cfg.RateLimit = &filter.RateLimitConfig{Rate: 0.001, Burst: 1}
	untrusted := newTestGateway(t, cfg)
	assert.Equal(t, http.StatusOK, get(untrusted, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, get(untrusted, "203.0.113.2"), "伪造的转发头共享同一个令牌桶")

	// httptest 请求来自 192.0.2.1，配置为可信代理后按转发头区分客户端
	cfg = baseConfig(backend.URL)
	cfg.RateLimit = &filter.RateLimitConfig{Rate: 0.001, Burst: 1}
	cfg.TrustedProxies = []string{"192.0.2.1"}
	trusted := newTestGateway(t, cfg)
	assert.Equal(t, http.StatusOK, get(trusted, "203.0.113.1"))
	assert.Equal(t, http.StatusOK, get(trusted, "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, get(trusted, "203.0.113.1"))
}

func TestOtherAuthSchemeIsAnonymous(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReloadRules(t *testing.T) {
	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))
	token := readToken(t, "read")

	require.Equal(t, http.StatusOK, do(g, http.MethodGet, "/api/items/1", token).Code)

	require.NoError(t, g.ReloadRules([]policy.RuleConfig{
		{Paths: []string{"/api/items/**"}, Access: "deny_all"},
		{Paths: []string{"/**"}, Access: "authenticated"},
	}))
	assert.Equal(t, http.StatusForbidden, do(g, http.MethodGet, "/api/items/1", token).Code)

	err := g.ReloadRules([]policy.RuleConfig{{Paths: []string{"/**"}, Access: "sometimes"}})
	require.Error(t, err)
	assert.Len(t, g.Policy().Rules(), 2, "非法规则不应替换当前策略")

	rec := do(g, http.MethodGet, "/actuator/policy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["rules"], 2)
}

func TestWatchRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	write := func(access string) {
		content := "gateway:\n  rules:\n    - paths: [\"/api/items/**\"]\n      access: " + access + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("permit_all")

	loader, err := config.New(&config.Config{Name: "gateway", Paths: []string{dir}, EnvPrefix: "GWRULES"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	backend := newEchoBackend(t)
	g := newTestGateway(t, baseConfig(backend.URL))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, g.WatchRules(ctx, loader, "gateway.rules"))

	write("deny_all")
	assert.Eventually(t, func() bool {
		rules := g.Policy().Rules()
		return len(rules) == 1 && rules[0].Access == policy.DenyAll
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, http.StatusForbidden, do(g, http.MethodGet, "/api/items/1", readToken(t, "write")).Code)
}

func TestSeparateAdminHandler(t *testing.T) {
	cfg := baseConfig("http://127.0.0.1:1")
	cfg.AdminAddr = ":0"
	g := newTestGateway(t, cfg)

	rec := httptest.NewRecorder()
	g.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UP", decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	g.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actuator/breakers/none", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 管理接口不挂在主端口时，主端口按转发处理并要求认证
	assert.Equal(t, http.StatusUnauthorized, do(g, http.MethodGet, "/actuator/health", "").Code)
}

func TestConfigValidate(t *testing.T) {
	authCfg := auth.Config{SecretKey: testkit.TestSecret}
	tests := []struct {
		name   string
		routes []RouteConfig
	}{
		{"missing id", []RouteConfig{{Prefix: "/a", Upstream: "http://a"}}},
		{"duplicate id", []RouteConfig{
			{ID: "a", Prefix: "/a", Upstream: "http://a"},
			{ID: "a", Prefix: "/b", Upstream: "http://b"},
		}},
		{"relative prefix", []RouteConfig{{ID: "a", Prefix: "a", Upstream: "http://a"}}},
		{"bad scheme", []RouteConfig{{ID: "a", Prefix: "/a", Upstream: "ftp://a"}}},
		{"negative strip", []RouteConfig{{ID: "a", Prefix: "/a", Upstream: "http://a", StripPrefix: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&Config{Auth: authCfg, Routes: tt.routes})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{Auth: auth.Config{SecretKey: "short"}})
	assert.ErrorIs(t, err, auth.ErrInvalidConfig)

	_, err = New(&Config{Auth: authCfg, Rules: []policy.RuleConfig{{Paths: []string{"/x"}, Access: "bogus"}}})
	assert.Error(t, err)

	_, err = New(&Config{Auth: authCfg, TrustedProxies: []string{"not-an-ip"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStripSegments(t *testing.T) {
	tests := []struct {
		path string
		n    int
		want string
	}{
		{"/api/items/1", 0, "/api/items/1"},
		{"/api/items/1", 1, "/items/1"},
		{"/api/items/1", 2, "/1"},
		{"/api/items", 2, "/"},
		{"/api/items/", 1, "/items/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripSegments(tt.path, tt.n), "%s strip %d", tt.path, tt.n)
	}
}
