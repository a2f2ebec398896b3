package breaker

import (
	"time"

	"github.com/ceyewan/gatekeeper/xerrors"
)

// Policy 单个熔断器的不可变配置。刷新配置会创建新的熔断器实例，不会原地修改状态。
//
//	breaker:
//	  default:
//	    sliding_window_size: 10
//	    failure_rate_threshold: 50
//	    slow_call_duration_threshold: 2s
//	    slow_call_rate_threshold: 50
//	    wait_duration_in_open_state: 10s
//	    permitted_calls_in_half_open_state: 5
//	  services:
//	    inventory:
//	      wait_duration_in_open_state: 30s
type Policy struct {
	// SlidingWindowSize 滑动窗口大小（调用次数）
	SlidingWindowSize int `json:"sliding_window_size" mapstructure:"sliding_window_size"`
	// FailureRateThreshold 失败率阈值，百分比 (0, 100]
	FailureRateThreshold float64 `json:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// SlowCallDurationThreshold 耗时达到该值即为慢调用
	SlowCallDurationThreshold time.Duration `json:"slow_call_duration_threshold" mapstructure:"slow_call_duration_threshold"`
	// SlowCallRateThreshold 慢调用率阈值，百分比 (0, 100]
	SlowCallRateThreshold float64 `json:"slow_call_rate_threshold" mapstructure:"slow_call_rate_threshold"`
	// WaitDurationInOpenState 打开状态持续时间，到期后下一次请求进入半开
	WaitDurationInOpenState time.Duration `json:"wait_duration_in_open_state" mapstructure:"wait_duration_in_open_state"`
	// PermittedCallsInHalfOpenState 半开状态允许的探测调用数，同时是探测窗口大小
	PermittedCallsInHalfOpenState int `json:"permitted_calls_in_half_open_state" mapstructure:"permitted_calls_in_half_open_state"`
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		SlidingWindowSize:             10,
		FailureRateThreshold:          50,
		SlowCallDurationThreshold:     2 * time.Second,
		SlowCallRateThreshold:         50,
		WaitDurationInOpenState:       10 * time.Second,
		PermittedCallsInHalfOpenState: 5,
	}
}

func (p Policy) validate() error {
	switch {
	case p.SlidingWindowSize <= 0:
		return xerrors.Wrapf(ErrInvalidPolicy, "sliding_window_size must be positive, got %d", p.SlidingWindowSize)
	case p.FailureRateThreshold <= 0 || p.FailureRateThreshold > 100:
		return xerrors.Wrapf(ErrInvalidPolicy, "failure_rate_threshold must be in (0, 100], got %v", p.FailureRateThreshold)
	case p.SlowCallRateThreshold <= 0 || p.SlowCallRateThreshold > 100:
		return xerrors.Wrapf(ErrInvalidPolicy, "slow_call_rate_threshold must be in (0, 100], got %v", p.SlowCallRateThreshold)
	case p.SlowCallDurationThreshold < 0:
		return xerrors.Wrapf(ErrInvalidPolicy, "slow_call_duration_threshold must not be negative")
	case p.WaitDurationInOpenState <= 0:
		return xerrors.Wrapf(ErrInvalidPolicy, "wait_duration_in_open_state must be positive")
	case p.PermittedCallsInHalfOpenState <= 0:
		return xerrors.Wrapf(ErrInvalidPolicy, "permitted_calls_in_half_open_state must be positive, got %d", p.PermittedCallsInHalfOpenState)
	}
	return nil
}

// mergePolicy 用 override 的非零字段覆盖 base
func mergePolicy(base, override Policy) Policy {
	if override.SlidingWindowSize > 0 {
		base.SlidingWindowSize = override.SlidingWindowSize
	}
	if override.FailureRateThreshold > 0 {
		base.FailureRateThreshold = override.FailureRateThreshold
	}
	if override.SlowCallDurationThreshold > 0 {
		base.SlowCallDurationThreshold = override.SlowCallDurationThreshold
	}
	if override.SlowCallRateThreshold > 0 {
		base.SlowCallRateThreshold = override.SlowCallRateThreshold
	}
	if override.WaitDurationInOpenState > 0 {
		base.WaitDurationInOpenState = override.WaitDurationInOpenState
	}
	if override.PermittedCallsInHalfOpenState > 0 {
		base.PermittedCallsInHalfOpenState = override.PermittedCallsInHalfOpenState
	}
	return base
}

// Config 注册表配置：默认策略加按资源名覆盖的策略
type Config struct {
	Default  Policy            `json:"default" mapstructure:"default"`
	Services map[string]Policy `json:"services" mapstructure:"services"`
}

// setDefaults Default 中未设置的字段取 DefaultPolicy
func (c *Config) setDefaults() {
	c.Default = mergePolicy(DefaultPolicy(), c.Default)
}

func (c *Config) validate() error {
	if err := c.Default.validate(); err != nil {
		return xerrors.Wrap(err, "default")
	}
	for name, p := range c.Services {
		if err := mergePolicy(c.Default, p).validate(); err != nil {
			return xerrors.Wrapf(err, "services.%s", name)
		}
	}
	return nil
}

// PolicyFor 返回 name 的生效策略
func (c *Config) PolicyFor(name string) Policy {
	if p, ok := c.Services[name]; ok {
		return mergePolicy(c.Default, p)
	}
	return c.Default
}
