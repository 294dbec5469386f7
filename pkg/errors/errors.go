// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeUnknown      ErrorCode = "1000"
	CodeInvalidParam ErrorCode = "1001"
	CodeInterrupted  ErrorCode = "1002"

	// LLM 调用错误 (2xxx)
	// Transient 类错误允许有界重试，Fatal 类错误立即终止本次运行
	CodeLLMTransient ErrorCode = "2001"
	CodeLLMFatal     ErrorCode = "2002"
	CodeLLMAuth      ErrorCode = "2003"
	CodeLLMBadOutput ErrorCode = "2004"

	// 业务错误 (3xxx)
	CodeGenerationFailed ErrorCode = "3001"
	CodeValidationFailed ErrorCode = "3002"
	CodeMemoryFailed     ErrorCode = "3003"

	// 状态持久化错误 (4xxx)
	CodeStateCorrupted ErrorCode = "4001"
	CodeStateIOFailed  ErrorCode = "4002"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
	Err     error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义错误
var (
	ErrInvalidParam     = New(CodeInvalidParam, "invalid parameter")
	ErrInterrupted      = New(CodeInterrupted, "run interrupted")
	ErrLLMCallFailed    = New(CodeLLMFatal, "LLM call failed")
	ErrGenerationFailed = New(CodeGenerationFailed, "generation failed")
	ErrValidationFailed = New(CodeValidationFailed, "validation failed")
	ErrStateCorrupted   = New(CodeStateCorrupted, "state file corrupted")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeUnknown, "unknown error", err)
}

// CodeOf 返回错误的错误码，非 AppError 归类为 CodeUnknown
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsAppError(err).Code
}

// IsTransient 判断错误是否可有界重试
func IsTransient(err error) bool {
	return CodeOf(err) == CodeLLMTransient
}

// IsInterrupted 判断错误是否由外部中断信号引起
func IsInterrupted(err error) bool {
	return CodeOf(err) == CodeInterrupted
}

// ExitStatus 错误码转进程退出码
// 干净中断（状态已保存）视作正常退出
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case CodeInterrupted:
		return 0
	case CodeInvalidParam, CodeValidationFailed:
		return 2
	case CodeStateCorrupted, CodeStateIOFailed:
		return 3
	default:
		return 1
	}
}
