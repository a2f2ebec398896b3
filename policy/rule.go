package policy

import (
	"encoding"
	"net/http"
	"slices"
	"strings"

	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/xerrors"
)

// Access 规则的访问要求
type Access int

const (
	PermitAll     Access = iota // 任何人
	Authenticated               // 任意已认证调用方
	AnyOf                       // 拥有任意一个授权标识
	AllOf                       // 拥有全部授权标识
	DenyAll                     // 任何人都不允许
)

var accessNames = map[Access]string{
	PermitAll:     "permit_all",
	Authenticated: "authenticated",
	AnyOf:         "any_of",
	AllOf:         "all_of",
	DenyAll:       "deny_all",
}

var _ encoding.TextUnmarshaler = (*Access)(nil)

func (a Access) String() string {
	if s, ok := accessNames[a]; ok {
		return s
	}
	return "unknown"
}

// MarshalText 实现 encoding.TextMarshaler
func (a Access) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText 解析 permit_all、authenticated、any_of、all_of、deny_all
func (a *Access) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for k, v := range accessNames {
		if v == name {
			*a = k
			return nil
		}
	}
	return xerrors.Wrapf(ErrInvalidRule, "unknown access %q", text)
}

var knownMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace,
}

// Rule 一条访问规则：任一模式匹配且方法命中时生效
type Rule struct {
	Patterns    []Pattern
	Methods     []string // 为空表示任意方法
	Access      Access
	Authorities []auth.Authority
}

// NewRule 创建规则并校验参数
func NewRule(access Access, methods []string, authorities []auth.Authority, patterns ...string) (Rule, error) {
	r := Rule{Access: access}
	if _, ok := accessNames[access]; !ok {
		return Rule{}, xerrors.Wrapf(ErrInvalidRule, "unknown access %d", access)
	}
	if len(patterns) == 0 {
		return Rule{}, xerrors.Wrapf(ErrInvalidRule, "at least one path is required")
	}
	for _, s := range patterns {
		p, err := ParsePattern(s)
		if err != nil {
			return Rule{}, err
		}
		r.Patterns = append(r.Patterns, p)
	}
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if !slices.Contains(knownMethods, m) {
			return Rule{}, xerrors.Wrapf(ErrInvalidRule, "unknown method %q", m)
		}
		r.Methods = append(r.Methods, m)
	}
	switch access {
	case AnyOf, AllOf:
		if len(authorities) == 0 {
			return Rule{}, xerrors.Wrapf(ErrInvalidRule, "%s requires at least one authority", access)
		}
		for _, a := range authorities {
			if !a.Valid() {
				return Rule{}, xerrors.Wrapf(ErrInvalidRule, "malformed authority %q", a)
			}
		}
		r.Authorities = slices.Clone(authorities)
	default:
		if len(authorities) > 0 {
			return Rule{}, xerrors.Wrapf(ErrInvalidRule, "%s does not take authorities", access)
		}
	}
	return r, nil
}

// Matches 方法与路径是否命中规则
func (r Rule) Matches(method, path string) bool {
	if len(r.Methods) > 0 && !slices.Contains(r.Methods, method) {
		return false
	}
	for _, p := range r.Patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}

// decide 规则命中后的判定
func (r Rule) decide(p *auth.Principal) error {
	switch r.Access {
	case PermitAll:
		return nil
	case Authenticated:
		if p == nil {
			return ErrUnauthenticated
		}
		return nil
	case AnyOf:
		if p.HasAny(r.Authorities...) {
			return nil
		}
	case AllOf:
		if p != nil && p.HasAll(r.Authorities...) {
			return nil
		}
	}
	return ErrForbidden
}

func (r Rule) String() string {
	paths := make([]string, len(r.Patterns))
	for i, p := range r.Patterns {
		paths[i] = p.String()
	}
	methods := "*"
	if len(r.Methods) > 0 {
		methods = strings.Join(r.Methods, ",")
	}
	s := methods + " " + strings.Join(paths, ",") + " " + r.Access.String()
	if len(r.Authorities) > 0 {
		as := make([]string, len(r.Authorities))
		for i, a := range r.Authorities {
			as[i] = string(a)
		}
		s += "(" + strings.Join(as, ",") + ")"
	}
	return s
}
