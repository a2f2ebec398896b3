package policy

import (
	"net/http"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// RuleConfig 规则配置
//
//	rules:
//	  - paths: ["/authorized", "/logout"]
//	    access: permit_all
//	  - paths: ["/api/items/{id}"]
//	    methods: [GET]
//	    access: any_of
//	    authorities: [SCOPE_read, SCOPE_write]
type RuleConfig struct {
	Paths       []string `mapstructure:"paths" json:"paths"`
	Methods     []string `mapstructure:"methods" json:"methods,omitempty"`
	Access      string   `mapstructure:"access" json:"access"`
	Authorities []string `mapstructure:"authorities" json:"authorities,omitempty"`
}

// Build 创建规则
func (c RuleConfig) Build() (Rule, error) {
	var access Access
	if err := access.UnmarshalText([]byte(c.Access)); err != nil {
		return Rule{}, err
	}
	authorities := make([]auth.Authority, 0, len(c.Authorities))
	for _, s := range c.Authorities {
		authorities = append(authorities, auth.Authority(s))
	}
	return NewRule(access, c.Methods, authorities, c.Paths...)
}

// FromConfig 按配置顺序创建 Policy，任何一条规则不合法都返回错误
func FromConfig(cfgs []RuleConfig) (*Policy, error) {
	rules := make([]Rule, 0, len(cfgs))
	for i, c := range cfgs {
		r, err := c.Build()
		if err != nil {
			return nil, xerrors.Wrapf(err, "rules[%d]", i)
		}
		rules = append(rules, r)
	}
	return New(rules...), nil
}

const (
	scopeRead  = "SCOPE_read"
	scopeWrite = "SCOPE_write"
)

// DefaultRules 默认路由规则：
// 登录回调与登出开放；集合查询开放；按 id 查询需要 read 或 write；
// 写操作需要 write；其余请求需要认证。
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Paths: []string{"/authorized", "/logout"}, Access: "permit_all"},
		{
			Paths:   []string{"/api/items", "/api/products", "/api/users"},
			Methods: []string{http.MethodGet},
			Access:  "permit_all",
		},
		{
			Paths:       []string{"/api/items/{id}", "/api/products/{id}", "/api/users/{id}"},
			Methods:     []string{http.MethodGet},
			Access:      "any_of",
			Authorities: []string{scopeWrite, scopeRead},
		},
		{
			Paths:       []string{"/api/products/**", "/api/items/**", "/api/users/**"},
			Methods:     []string{http.MethodPut},
			Access:      "any_of",
			Authorities: []string{scopeWrite},
		},
		{
			Paths:       []string{"/api/products", "/api/items", "/api/users"},
			Methods:     []string{http.MethodPost},
			Access:      "any_of",
			Authorities: []string{scopeWrite},
		},
		{
			Paths:       []string{"/api/products/**", "/api/items/**", "/api/users/**"},
			Methods:     []string{http.MethodDelete},
			Access:      "any_of",
			Authorities: []string{scopeWrite},
		},
		{Paths: []string{"/**"}, Access: "authenticated"},
	}
}
