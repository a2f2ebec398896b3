package config

import "github.com/ceyewan/gatekeeper/xerrors"

// ErrValidationFailed 配置验证失败
var ErrValidationFailed = xerrors.New("config: validation failed")

// IsNotFound 检查错误是否为配置未找到
func IsNotFound(err error) bool {
	return xerrors.Is(err, xerrors.ErrNotFound)
}

// IsInvalidInput 检查错误是否为配置格式无效
func IsInvalidInput(err error) bool {
	return xerrors.Is(err, xerrors.ErrInvalidInput)
}
