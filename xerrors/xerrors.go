// Package xerrors 提供 gatekeeper 各组件共用的错误处理工具。
//
// 组件自身的哨兵错误统一以 "包名: 描述" 的形式通过 New 定义。
// 需要对外暴露机器可读分类时（网关返回给客户端的 JSON 错误体），
// 用 WithCode 附加错误码，响应方用 CodeOr 取码并给出默认值：
//
//	err := xerrors.WithCode(ErrRouteDisabled, "ROUTE_DISABLED")
//	c.JSON(status, gin.H{"code": xerrors.CodeOr(err, "BAD_GATEWAY"), "error": err.Error()})
package xerrors

import (
	"errors"
	"fmt"
)

// 标准库函数再导出，调用方只需引用本包
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

var (
	// ErrInvalidInput 参数或配置非法
	ErrInvalidInput = New("invalid input")
	// ErrNotFound 目标不存在
	ErrNotFound = New("not found")
)

// Wrap 在 err 前加上上下文 msg，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 同 Wrap，上下文按格式生成
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// CodedError 携带面向客户端的错误码
type CodedError struct {
	Code  string
	Cause error
}

// WithCode 为 err 附加错误码，err 为 nil 时返回 nil
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return "[" + e.Code + "]"
	}
	return "[" + e.Code + "] " + e.Cause.Error()
}

func (e *CodedError) Unwrap() error { return e.Cause }

// CodeOr 返回错误链上最外层的错误码，链上没有时返回 fallback
func CodeOr(err error, fallback string) string {
	var coded *CodedError
	if errors.As(err, &coded) && coded.Code != "" {
		return coded.Code
	}
	return fallback
}

// GetCode 返回错误链上的错误码，没有时为空字符串
func GetCode(err error) string {
	return CodeOr(err, "")
}

// Must 初始化阶段使用，err 不为 nil 时 panic
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("must: %v", err))
	}
	return v
}

// Combine 合并多个错误并忽略 nil：全为 nil 时返回 nil，只有一个时原样返回，
// 否则返回 errors.Join 的结果
func Combine(errs ...error) error {
	var first error
	n := 0
	for _, err := range errs {
		if err != nil {
			if n == 0 {
				first = err
			}
			n++
		}
	}
	if n <= 1 {
		return first
	}
	return errors.Join(errs...)
}
