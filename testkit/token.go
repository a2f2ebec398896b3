package testkit

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestSecret 测试令牌使用的 HS256 密钥
const TestSecret = "gatekeeper-test-secret-0123456789"

// TestIssuer 测试令牌的签发者
const TestIssuer = "http://auth-server:9000"

// MintToken 签发一个 HS256 测试令牌，roles 写入 "roles" 声明。
// extra 中的声明会覆盖默认值，例如 {"exp": 0} 或 {"sub": ""}。
func MintToken(t *testing.T, subject string, roles []string, extra map[string]any) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"iss":   TestIssuer,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"roles": roles,
	}
	for k, v := range extra {
		claims[k] = v
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(TestSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}
