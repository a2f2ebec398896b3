package trace

// Span 属性键
const (
	AttrBreakerName    = "gatekeeper.breaker.name"
	AttrBreakerState   = "gatekeeper.breaker.state"
	AttrCallOutcome    = "gatekeeper.call.outcome"
	AttrCallSlow       = "gatekeeper.call.slow"
	AttrFallbackUsed   = "gatekeeper.fallback.used"
	AttrPrincipal      = "gatekeeper.principal"
	AttrPolicyDecision = "gatekeeper.policy.decision"
)

// SpanNameResilientCall 返回受保护调用的 Span 名称
func SpanNameResilientCall(resource string) string {
	if resource == "" {
		return "resilience.call"
	}
	return "resilience.call " + resource
}
