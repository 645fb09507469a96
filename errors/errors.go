// Package errors 提供编排引擎的错误分类与包装能力
//
// 错误分类对应命令生命周期中的各类失败：
//   - 验证失败（进入编排之前被拦截）
//   - 锁超时（锁管理器在预算内未获得锁）
//   - 活动重试耗尽（包装最后一次底层错误）
//   - Provider 错误（扇出聚合上浮）
//   - 文档并发冲突（ETag 不匹配，本地重试，不上浮给调用方）
//   - 取消（外部信号终止命令）
//   - 基础设施错误（无既定恢复路径的意外异常）
package errors

import (
	stdErrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeLockTimeout    ErrorCode = "LOCK_TIMEOUT"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeProvider       ErrorCode = "PROVIDER_ERROR"
	ErrCodeCancelled      ErrorCode = "CANCELLED"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeNondeterminism ErrorCode = "NONDETERMINISM"
)

// IError 错误接口
type IError interface {
	error

	// Code 获取错误代码
	Code() ErrorCode

	// Message 获取错误消息
	Message() string

	// Cause 获取原始错误
	Cause() error

	// Details 获取错误详情
	Details() map[string]any

	// Stack 获取堆栈信息
	Stack() string

	// WithContext 添加上下文
	WithContext(key string, value any) IError
}

// AppError 应用错误实现
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
	stack   string
}

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{
		code:    code,
		message: message,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// WrapError 包装错误
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}

	return &AppError{
		code:    code,
		message: message,
		cause:   err,
		details: make(map[string]any),
		stack:   captureStack(),
	}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 获取错误代码
func (e *AppError) Code() ErrorCode {
	return e.code
}

// Message 获取错误消息
func (e *AppError) Message() string {
	return e.message
}

// Cause 获取原始错误
func (e *AppError) Cause() error {
	return e.cause
}

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// Stack 获取堆栈信息
func (e *AppError) Stack() string {
	return e.stack
}

// Is 检查是否为指定类型的错误（按错误代码比较）
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}

	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}

	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}

	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithContext 添加上下文
func (e *AppError) WithContext(key string, value any) IError {
	newDetails := copyMap(e.details)
	newDetails[key] = value

	return &AppError{
		code:    e.code,
		message: e.message,
		cause:   e.cause,
		details: newDetails,
		stack:   e.stack,
	}
}

// 预定义错误变量
var (
	ErrInternal       = NewError(ErrCodeInternal, "internal error")
	ErrValidation     = NewError(ErrCodeValidation, "validation failed")
	ErrNotFound       = NewError(ErrCodeNotFound, "document not found")
	ErrConflict       = NewError(ErrCodeConflict, "document etag mismatch")
	ErrLockTimeout    = NewError(ErrCodeLockTimeout, "lock not acquired within budget")
	ErrRetryExhausted = NewError(ErrCodeRetryExhausted, "activity retry budget exhausted")
	ErrProvider       = NewError(ErrCodeProvider, "provider command failed")
	ErrCancelled      = NewError(ErrCodeCancelled, "command cancelled")
	ErrTimeout        = NewError(ErrCodeTimeout, "operation timed out")
)

// IsNotFound 检查是否为未找到错误
func IsNotFound(err error) bool {
	return IsErrorCode(err, ErrCodeNotFound)
}

// IsConflict 检查是否为 ETag 冲突错误
func IsConflict(err error) bool {
	return IsErrorCode(err, ErrCodeConflict)
}

// IsValidation 检查是否为验证错误
func IsValidation(err error) bool {
	return IsErrorCode(err, ErrCodeValidation)
}

// IsCancelled 检查是否为取消错误
func IsCancelled(err error) bool {
	return IsErrorCode(err, ErrCodeCancelled)
}

// IsErrorCode 检查是否为指定错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}

	return false
}

// GetErrorCode 获取错误代码，非 AppError 归类为内部错误
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}

	return ErrCodeInternal
}

func copyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// captureStack 捕获调用堆栈（跳过 errors 包内部帧）
func captureStack() string {
	var sb strings.Builder
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return sb.String()
}
