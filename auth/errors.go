package auth

import "github.com/ceyewan/gatekeeper/xerrors"

var (
	ErrUnauthenticated  = xerrors.New("auth: unauthenticated")
	ErrMissingToken     = xerrors.New("auth: missing token")
	ErrInvalidToken     = xerrors.New("auth: invalid token")
	ErrExpiredToken     = xerrors.New("auth: token expired")
	ErrInvalidSignature = xerrors.New("auth: invalid signature")
	ErrInvalidClaims    = xerrors.New("auth: invalid claims")
	ErrInvalidConfig    = xerrors.New("auth: invalid config")
)

// 错误码，写入 JSON 错误响应的 code 字段
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeInvalidClaims   = "INVALID_CLAIMS"
	CodeTokenExpired    = "TOKEN_EXPIRED"
)

// IsUnauthenticated 令牌缺失、无效或声明不合法都视为未认证
func IsUnauthenticated(err error) bool {
	for _, target := range []error{ErrUnauthenticated, ErrMissingToken, ErrInvalidToken,
		ErrExpiredToken, ErrInvalidSignature, ErrInvalidClaims} {
		if xerrors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorCode 返回认证错误对应的错误码
func errorCode(err error) string {
	switch {
	case xerrors.Is(err, ErrInvalidClaims):
		return CodeInvalidClaims
	case xerrors.Is(err, ErrExpiredToken):
		return CodeTokenExpired
	default:
		return CodeUnauthenticated
	}
}
