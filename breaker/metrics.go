package breaker

import (
	"context"

	"github.com/ceyewan/gatekeeper/metrics"
)

const (
	// MetricCallsTotal 被放行调用的结果数 (Counter)
	MetricCallsTotal = "breaker_calls_total"
	// MetricNotPermittedTotal 被熔断拒绝的调用数 (Counter)
	MetricNotPermittedTotal = "breaker_not_permitted_calls_total"
	// MetricStateTransitionsTotal 状态转换次数 (Counter)
	MetricStateTransitionsTotal = "breaker_state_transitions_total"
	// MetricState 当前状态 (Gauge)：0=closed 1=open 2=half_open
	MetricState = "breaker_state"
	// MetricCallDuration 被放行调用的耗时 (Histogram)
	MetricCallDuration = "breaker_call_duration_seconds"

	LabelFromState = "from_state"
	LabelToState   = "to_state"
)

// recorder 熔断器指标集，由 Registry 创建并在其所有熔断器间共享
type recorder struct {
	calls        metrics.Counter
	notPermitted metrics.Counter
	transitions  metrics.Counter
	state        metrics.Gauge
	duration     metrics.Histogram
}

func newRecorder(m metrics.Meter) (*recorder, error) {
	calls, err := m.Counter(MetricCallsTotal, "Number of permitted calls by outcome.")
	if err != nil {
		return nil, err
	}
	notPermitted, err := m.Counter(MetricNotPermittedTotal, "Number of calls rejected by an open circuit breaker.")
	if err != nil {
		return nil, err
	}
	transitions, err := m.Counter(MetricStateTransitionsTotal, "Number of circuit breaker state transitions.")
	if err != nil {
		return nil, err
	}
	state, err := m.Gauge(MetricState, "Current circuit breaker state (0=closed, 1=open, 2=half_open).")
	if err != nil {
		return nil, err
	}
	duration, err := m.Histogram(MetricCallDuration, "Duration of permitted calls in seconds.",
		metrics.WithUnit("s"), metrics.WithBuckets(metrics.DefaultDurationBuckets))
	if err != nil {
		return nil, err
	}
	return &recorder{
		calls:        calls,
		notPermitted: notPermitted,
		transitions:  transitions,
		state:        state,
		duration:     duration,
	}, nil
}

func (r *recorder) outcome(name string, o Outcome) {
	if r == nil {
		return
	}
	ctx := context.Background()
	r.calls.Inc(ctx, metrics.L(metrics.LabelBreaker, name), metrics.L(metrics.LabelOutcome, o.Kind().String()))
	r.duration.Record(ctx, o.Duration.Seconds(), metrics.L(metrics.LabelBreaker, name))
}

func (r *recorder) rejected(name string) {
	if r == nil {
		return
	}
	r.notPermitted.Inc(context.Background(), metrics.L(metrics.LabelBreaker, name))
}

func (r *recorder) transition(name string, from, to State) {
	if r == nil {
		return
	}
	ctx := context.Background()
	r.transitions.Inc(ctx,
		metrics.L(metrics.LabelBreaker, name),
		metrics.L(LabelFromState, from.String()),
		metrics.L(LabelToState, to.String()))
	r.state.Set(ctx, float64(to), metrics.L(metrics.LabelBreaker, name))
}
