package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/gatekeeper/xerrors"
)

// Config 认证配置
//
//	auth:
//	  signing_method: HS256
//	  secret_key: ${GATEKEEPER_AUTH_SECRET_KEY}
//	  issuer: http://auth-server:9000
//	  claims:
//	    roles_claim: roles
type Config struct {
	// SigningMethod 签名算法: HS256 或 RS256，默认 HS256
	SigningMethod string `mapstructure:"signing_method"`
	// SecretKey HS256 密钥（至少 32 字符）
	SecretKey string `mapstructure:"secret_key"`
	// PublicKeyPEM RS256 公钥（PEM）
	PublicKeyPEM string `mapstructure:"public_key_pem"`

	Issuer   string        `mapstructure:"issuer"`   // 期望的签发者，为空不校验
	Audience string        `mapstructure:"audience"` // 期望的接收者，为空不校验
	Leeway   time.Duration `mapstructure:"leeway"`   // 时间类声明的容差

	// TokenLookup 令牌来源，形如 header:Authorization、query:token、cookie:jwt
	TokenLookup   string `mapstructure:"token_lookup"`
	TokenHeadName string `mapstructure:"token_head_name"` // Header 前缀，默认 Bearer

	// CacheSize 已验证令牌缓存容量，默认 10000，负数关闭缓存
	CacheSize int `mapstructure:"cache_size"`

	Claims MapperConfig `mapstructure:"claims"`
}

// setDefaults 设置默认值
func (c *Config) setDefaults() {
	if c.SigningMethod == "" {
		c.SigningMethod = jwt.SigningMethodHS256.Alg()
	}
	if c.TokenLookup == "" {
		c.TokenLookup = "header:Authorization"
	}
	if c.TokenHeadName == "" {
		c.TokenHeadName = "Bearer"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 10000
	}
	c.Claims.setDefaults()
}

// validate 验证配置
func (c *Config) validate() error {
	switch c.SigningMethod {
	case jwt.SigningMethodHS256.Alg():
		if len(c.SecretKey) < 32 {
			return xerrors.Wrapf(ErrInvalidConfig, "secret_key must be at least 32 characters")
		}
	case jwt.SigningMethodRS256.Alg():
		if strings.TrimSpace(c.PublicKeyPEM) == "" {
			return xerrors.Wrapf(ErrInvalidConfig, "public_key_pem is required for RS256")
		}
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported signing_method: %s", c.SigningMethod)
	}

	source, key, ok := strings.Cut(c.TokenLookup, ":")
	if !ok || key == "" {
		return xerrors.Wrapf(ErrInvalidConfig, "invalid token_lookup: %s", c.TokenLookup)
	}
	switch source {
	case "header", "query", "cookie":
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported token_lookup source: %s", source)
	}

	if c.Leeway < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "leeway must not be negative")
	}
	return nil
}
