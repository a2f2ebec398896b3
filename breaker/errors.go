package breaker

import "github.com/ceyewan/gatekeeper/xerrors"

var (
	// ErrBreakerOpen 熔断器打开（或半开探测名额已用尽），调用未被执行
	ErrBreakerOpen = xerrors.New("breaker: circuit breaker is open")

	// ErrNameEmpty 熔断器名称为空
	ErrNameEmpty = xerrors.New("breaker: name is empty")

	// ErrInvalidPolicy 策略参数非法
	ErrInvalidPolicy = xerrors.New("breaker: invalid policy")
)
