// Package policy 按声明顺序对请求做路由级授权。
//
// 第一条路径与方法都命中的规则决定结果，后续规则不再检查；
// 没有规则命中时，已认证的调用方放行，匿名请求拒绝。
//
//	p, _ := policy.FromConfig(policy.DefaultRules())
//	d := p.Authorize("GET", "/api/items/1", principal)
//
// Policy 创建后不可变，可并发使用；重新加载规则时构造新的 Policy 整体替换。
package policy

import (
	"github.com/ceyewan/gatekeeper/auth"
)

// Decision 授权结果
type Decision struct {
	Allowed bool
	// Reason 拒绝原因：ErrUnauthenticated 或 ErrForbidden
	Reason error
	// Rule 命中规则的下标，-1 表示无规则命中
	Rule int
}

func (d Decision) String() string {
	switch {
	case d.Allowed:
		return "allow"
	case d.Reason == ErrUnauthenticated:
		return "deny:unauthenticated"
	default:
		return "deny:forbidden"
	}
}

// Policy 有序规则集合
type Policy struct {
	rules []Rule
}

// New 按给定顺序创建 Policy
func New(rules ...Rule) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...)}
}

// Rules 规则副本
func (p *Policy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Authorize 判定请求是否放行，principal 为 nil 表示匿名
func (p *Policy) Authorize(method, path string, principal *auth.Principal) Decision {
	for i, r := range p.rules {
		if !r.Matches(method, path) {
			continue
		}
		if err := r.decide(principal); err != nil {
			return Decision{Reason: err, Rule: i}
		}
		return Decision{Allowed: true, Rule: i}
	}

	if principal == nil {
		return Decision{Reason: ErrUnauthenticated, Rule: -1}
	}
	return Decision{Allowed: true, Rule: -1}
}
