package auth

import (
	"strings"

	"github.com/ceyewan/gatekeeper/xerrors"
)

// MapperConfig 声明到授权标识的映射规则
type MapperConfig struct {
	// SubjectClaim 主体声明，默认 sub
	SubjectClaim string `mapstructure:"subject_claim"`
	// RolesClaim 必需的角色声明，字符串数组，默认 roles
	RolesClaim string `mapstructure:"roles_claim"`
	// ScopeClaim 可选的范围声明，空格分隔字符串或字符串数组，默认 scope
	ScopeClaim string `mapstructure:"scope_claim"`
	// ScopePrefix 范围值追加的前缀，默认 SCOPE_
	ScopePrefix string `mapstructure:"scope_prefix"`
	// Allowed 授权标识白名单，为空时只校验格式
	Allowed []string `mapstructure:"allowed"`
}

func (c *MapperConfig) setDefaults() {
	if c.SubjectClaim == "" {
		c.SubjectClaim = "sub"
	}
	if c.RolesClaim == "" {
		c.RolesClaim = "roles"
	}
	if c.ScopeClaim == "" {
		c.ScopeClaim = "scope"
	}
	if c.ScopePrefix == "" {
		c.ScopePrefix = "SCOPE_"
	}
}

// Mapper 将已验证的声明集合映射为 Principal，纯函数，无 I/O
type Mapper struct {
	cfg     MapperConfig
	allowed map[Authority]struct{}
}

// NewMapper 创建 Mapper；白名单中的值必须是合法的授权标识
func NewMapper(cfg *MapperConfig) (*Mapper, error) {
	var c MapperConfig
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()

	m := &Mapper{cfg: c}
	if len(c.Allowed) > 0 {
		m.allowed = make(map[Authority]struct{}, len(c.Allowed))
		for _, s := range c.Allowed {
			a, err := ParseAuthority(s)
			if err != nil {
				return nil, xerrors.Wrapf(ErrInvalidConfig, "allowed authority %q", s)
			}
			m.allowed[a] = struct{}{}
		}
	}
	return m, nil
}

// Map 读取主体与授权标识。
//
// 以下情况返回 ErrInvalidClaims：主体缺失或为空；角色声明缺失或不是字符串数组；
// 范围声明类型不对；任一授权标识格式非法或不在白名单内。
func (m *Mapper) Map(claims map[string]any) (*Principal, error) {
	subject, _ := claims[m.cfg.SubjectClaim].(string)
	if strings.TrimSpace(subject) == "" {
		return nil, xerrors.Wrapf(ErrInvalidClaims, "missing %q claim", m.cfg.SubjectClaim)
	}

	raw, ok := claims[m.cfg.RolesClaim]
	if !ok {
		return nil, xerrors.Wrapf(ErrInvalidClaims, "missing %q claim", m.cfg.RolesClaim)
	}
	roles, ok := stringList(raw)
	if !ok {
		return nil, xerrors.Wrapf(ErrInvalidClaims, "%q claim must be a list of strings", m.cfg.RolesClaim)
	}

	values := roles
	if raw, ok := claims[m.cfg.ScopeClaim]; ok {
		scopes, ok := scopeList(raw)
		if !ok {
			return nil, xerrors.Wrapf(ErrInvalidClaims, "%q claim must be a string or a list of strings", m.cfg.ScopeClaim)
		}
		for _, s := range scopes {
			values = append(values, m.cfg.ScopePrefix+s)
		}
	}

	authorities := make([]Authority, 0, len(values))
	for _, v := range values {
		a, err := ParseAuthority(v)
		if err != nil {
			return nil, err
		}
		if m.allowed != nil {
			if _, ok := m.allowed[a]; !ok {
				return nil, xerrors.Wrapf(ErrInvalidClaims, "authority %q not allowed", v)
			}
		}
		authorities = append(authorities, a)
	}

	p := NewPrincipal(subject, authorities...)
	p.Claims = claims
	return p, nil
}

// stringList 接受 []string 或元素全为字符串的 []any
func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// scopeList 额外接受 OAuth2 风格的空格分隔字符串
func scopeList(v any) ([]string, bool) {
	if s, ok := v.(string); ok {
		return strings.Fields(s), true
	}
	return stringList(v)
}
