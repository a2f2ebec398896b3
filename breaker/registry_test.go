package breaker

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ceyewan/gatekeeper/testkit"
)

func TestNewRegistryValidatesPolicies(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config", nil, false},
		{"defaults", &Config{}, false},
		{"threshold above 100", &Config{Default: Policy{FailureRateThreshold: 150}}, true},
		{"service override invalid", &Config{Services: map[string]Policy{"x": {SlowCallRateThreshold: 101}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestRegistryGet(t *testing.T) {
	reg, err := NewRegistry(&Config{
		Services: map[string]Policy{
			"inventory": {WaitDurationInOpenState: 30 * time.Second},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	a, _ := reg.Get("inventory")
	b, _ := reg.Get("inventory")
	if a != b {
		t.Error("Get() should return the same instance for the same name")
	}
	if got := a.Policy().WaitDurationInOpenState; got != 30*time.Second {
		t.Errorf("override wait = %v, want 30s", got)
	}
	if got := a.Policy().SlidingWindowSize; got != 10 {
		t.Errorf("merged window size = %d, want default 10", got)
	}

	other, _ := reg.Get("pricing")
	if other.Policy() != DefaultPolicy() {
		t.Errorf("pricing policy = %+v, want default", other.Policy())
	}

	if _, err := reg.Get(""); !errors.Is(err, ErrNameEmpty) {
		t.Errorf("Get(\"\") error = %v, want ErrNameEmpty", err)
	}
}

func TestRegistryConcurrentGet(t *testing.T) {
	reg, _ := NewRegistry(nil)

	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = reg.Get("items")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(got); i++ {
		if got[i] != got[0] {
			t.Fatal("concurrent Get() created more than one breaker")
		}
	}
}

func TestRegistryReplaceAndReset(t *testing.T) {
	clock := testkit.NewFakeClock(time.Now())
	reg, _ := NewRegistry(&Config{Default: Policy{SlidingWindowSize: 1}}, WithClock(clock))

	old, _ := reg.Get("items")
	record(t, old, Failure(0, errBoom))
	if old.State() != StateOpen {
		t.Fatalf("state = %v, want open", old.State())
	}

	if err := reg.Reset("items"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	fresh, _ := reg.Get("items")
	if fresh == old || fresh.State() != StateClosed {
		t.Fatal("Reset() should install a new closed breaker")
	}
	if fresh.Policy().SlidingWindowSize != 1 {
		t.Errorf("Reset() should keep the policy, got %+v", fresh.Policy())
	}

	replaced, err := reg.Replace("items", Policy{SlidingWindowSize: 20})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	current, _ := reg.Get("items")
	if current != replaced || current.Policy().SlidingWindowSize != 20 {
		t.Errorf("Replace() did not install the new policy: %+v", current.Policy())
	}

	if _, err := reg.Replace("items", Policy{FailureRateThreshold: 200}); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Replace() invalid error = %v", err)
	}
	if err := reg.Reset(""); !errors.Is(err, ErrNameEmpty) {
		t.Errorf("Reset(\"\") error = %v", err)
	}
}

func TestRegistrySnapshotSorted(t *testing.T) {
	reg, _ := NewRegistry(nil)
	for _, name := range []string{"pricing", "inventory", "items"} {
		_, _ = reg.Get(name)
	}

	snap := reg.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(Snapshot()) = %d, want 3", len(snap))
	}
	for i, want := range []string{"inventory", "items", "pricing"} {
		if snap[i].Name != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].Name, want)
		}
	}
}

func TestRegistryExportsMetrics(t *testing.T) {
	meter := testkit.NewMeter(t)
	reg, err := NewRegistry(&Config{Default: Policy{SlidingWindowSize: 1}}, WithMeter(meter))
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	cb, _ := reg.Get("items")
	record(t, cb, Failure(0, errBoom))
	_, _ = cb.TryAcquire()

	rec := httptest.NewRecorder()
	meter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{MetricCallsTotal, MetricNotPermittedTotal, MetricStateTransitionsTotal, MetricState} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
