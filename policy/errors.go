package policy

import (
	"github.com/ceyewan/gatekeeper/auth"
	"github.com/ceyewan/gatekeeper/xerrors"
)

var (
	// ErrForbidden 调用方缺少所需授权
	ErrForbidden = xerrors.New("policy: forbidden")
	// ErrUnauthenticated 需要认证；与 auth.ErrUnauthenticated 是同一个值
	ErrUnauthenticated = auth.ErrUnauthenticated
	// ErrInvalidRule 规则配置不合法
	ErrInvalidRule = xerrors.New("policy: invalid rule")
)

// 错误码
const (
	CodeForbidden       = "FORBIDDEN"
	CodeUnauthenticated = auth.CodeUnauthenticated
)
