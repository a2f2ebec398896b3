package breaker

import "time"

// Kind 调用结果分类
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure
	KindSlow
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// Outcome 一次调用尝试的结果。失败与慢调用相互独立：
// 一次超时的调用既是失败，也可能是慢调用。
type Outcome struct {
	Duration time.Duration
	Err      error
	slow     bool
}

// Success 成功完成的调用
func Success(d time.Duration) Outcome {
	return Outcome{Duration: d}
}

// Failure 以 err 结束的调用，err 为 nil 时视为成功
func Failure(d time.Duration, err error) Outcome {
	return Outcome{Duration: d, Err: err}
}

// Slow 显式标记为慢调用的成功结果
func Slow(d time.Duration) Outcome {
	return Outcome{Duration: d, slow: true}
}

// Failed 是否失败
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// IsSlow 是否被标记为慢调用
func (o Outcome) IsSlow() bool {
	return o.slow
}

// Kind 失败优先于慢调用
func (o Outcome) Kind() Kind {
	switch {
	case o.Err != nil:
		return KindFailure
	case o.slow:
		return KindSlow
	default:
		return KindSuccess
	}
}

// classify 按阈值补充慢调用标记，threshold <= 0 表示不按耗时判定
func (o Outcome) classify(threshold time.Duration) Outcome {
	if threshold > 0 && o.Duration >= threshold {
		o.slow = true
	}
	return o
}
