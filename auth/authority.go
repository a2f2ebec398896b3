package auth

import (
	"regexp"
	"slices"
	"strings"

	"github.com/ceyewan/gatekeeper/xerrors"
)

// Authority 授权标识，形如 SCOPE_read、ROLE_ADMIN
type Authority string

// authorityPattern 合法授权标识的格式
var authorityPattern = regexp.MustCompile(`^(SCOPE|ROLE)_[A-Za-z0-9_.:-]+$`)

// ParseAuthority 校验并返回授权标识
func ParseAuthority(s string) (Authority, error) {
	if !authorityPattern.MatchString(s) {
		return "", xerrors.Wrapf(ErrInvalidClaims, "malformed authority %q", s)
	}
	return Authority(s), nil
}

// Valid 是否符合授权标识格式
func (a Authority) Valid() bool {
	return authorityPattern.MatchString(string(a))
}

func (a Authority) String() string {
	return string(a)
}

// Principal 通过认证的调用方
type Principal struct {
	Subject     string
	Authorities []Authority // 有序且去重
	Claims      map[string]any
}

// NewPrincipal 创建 Principal，授权标识排序去重
func NewPrincipal(subject string, authorities ...Authority) *Principal {
	as := slices.Clone(authorities)
	slices.Sort(as)
	return &Principal{Subject: subject, Authorities: slices.Compact(as)}
}

// Has 是否拥有授权标识 a
func (p *Principal) Has(a Authority) bool {
	if p == nil {
		return false
	}
	_, found := slices.BinarySearch(p.Authorities, a)
	return found
}

// HasAny 是否拥有任意一个授权标识
func (p *Principal) HasAny(as ...Authority) bool {
	for _, a := range as {
		if p.Has(a) {
			return true
		}
	}
	return false
}

// HasAll 是否拥有全部授权标识
func (p *Principal) HasAll(as ...Authority) bool {
	if p == nil {
		return false
	}
	for _, a := range as {
		if !p.Has(a) {
			return false
		}
	}
	return true
}

// AuthorityStrings 授权标识的字符串形式
func (p *Principal) AuthorityStrings() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.Authorities))
	for i, a := range p.Authorities {
		out[i] = string(a)
	}
	return out
}

func (p *Principal) String() string {
	if p == nil {
		return "anonymous"
	}
	return p.Subject + "[" + strings.Join(p.AuthorityStrings(), ",") + "]"
}
