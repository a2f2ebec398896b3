package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/gatekeeper/xerrors"
)

// Verifier 校验令牌的签名与有效期，返回声明集合
type Verifier interface {
	Verify(ctx context.Context, token string) (map[string]any, error)
}

// VerifierFunc 函数适配 Verifier
type VerifierFunc func(ctx context.Context, token string) (map[string]any, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (map[string]any, error) {
	return f(ctx, token)
}

// JWTVerifier 基于 golang-jwt 的 Verifier，支持 HS256 与 RS256
type JWTVerifier struct {
	parser *jwt.Parser
	key    any
}

// NewJWTVerifier 根据配置创建 JWTVerifier
func NewJWTVerifier(cfg *Config) (*JWTVerifier, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var key any
	switch cfg.SigningMethod {
	case jwt.SigningMethodRS256.Alg():
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, xerrors.Wrapf(ErrInvalidConfig, "parse public_key_pem: %v", err)
		}
		key = pub
	default:
		key = []byte(cfg.SecretKey)
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{cfg.SigningMethod}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		popts = append(popts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTVerifier{parser: jwt.NewParser(popts...), key: key}, nil
}

// Verify 校验令牌，错误归类为 ErrExpiredToken、ErrInvalidSignature 或 ErrInvalidToken
func (v *JWTVerifier) Verify(_ context.Context, token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	switch {
	case err == nil:
		return claims, nil
	case xerrors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case xerrors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrInvalidSignature
	default:
		return nil, xerrors.Wrapf(ErrInvalidToken, "%v", err)
	}
}
