// Package retry 提供带指数退避的有界重试
//
// 活动层的每次调用都通过本包执行：固定尝试次数上限，重试间指数退避。
// 标记为 Permanent 的错误立即中止重试（例如验证失败、ETag 之外的业务冲突）。
package retry

import (
	"context"
	"errors"
	"time"
)

// Operation 可重试的操作函数类型
type Operation func(ctx context.Context) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 退避倍数（指数退避）
	MaxDelay      time.Duration // 最大延迟
}

// DefaultConfig 返回默认配置
//
// 默认值对应活动层的重试预算：
//   - MaxAttempts: 3（1次初始 + 2次重试）
//   - InitialDelay: 100ms
//   - BackoffFactor: 2.0（指数退避）
//   - MaxDelay: 2s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      2 * time.Second,
	}
}

// permanentError 不应重试的错误包装
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误为不可重试，Do 遇到后立即返回底层错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 执行带重试的操作
//
// 返回：
//   - nil（任意一次尝试成功）
//   - 最后一次执行的错误（所有尝试都失败或遇到 Permanent 错误）
func Do(ctx context.Context, op Operation, cfg Config) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		// 检查上下文是否已取消
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err

		// 最后一次尝试不需要等待
		if attempt < cfg.MaxAttempts {
			delay := time.Duration(float64(cfg.InitialDelay) *
				pow(cfg.BackoffFactor, float64(attempt-1)))

			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// pow 简单的幂运算实现（避免引入 math 包）
func pow(base, exp float64) float64 {
	if exp == 0 {
		return 1
	}
	result := base
	for i := 1; i < int(exp); i++ {
		result *= base
	}
	return result
}
