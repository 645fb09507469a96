// Package activity 提供编排调用的幂等单步操作
//
// 活动是纯粹的单步函数：类型化输入 → 类型化输出，内部不包含编排级控制流
// （不循环子步骤、不获取锁）。每次调用的副作用限定为一次外部资源调用
// 或一次文档读写——绝不在同一活动里二者兼有，以保证重试语义简单。
//
// 所有活动经由 Executor 带有界重试执行；重试耗尽向调用编排上浮终态错误。
package activity

import (
	"context"
	"fmt"

	"stratus/errors"
	"stratus/logging"
	"stratus/patterns/retry"
)

// Executor 活动执行器，为每次活动调用套上有界重试策略
type Executor struct {
	cfg    retry.Config
	logger logging.Logger
}

// NewExecutor 创建执行器；cfg 为零值时使用默认重试预算（3 次尝试）
func NewExecutor(cfg retry.Config) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg = retry.DefaultConfig()
	}
	return &Executor{
		cfg:    cfg,
		logger: logging.ComponentLogger("activity.executor"),
	}
}

// Run 执行单个活动，带重试
//
// 重试耗尽时包装为 ErrCodeRetryExhausted；Permanent 错误立即上浮。
func (e *Executor) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			e.logger.Debug(ctx, "retrying activity",
				logging.String("activity", name),
				logging.Int("attempt", attempt))
		}
		return op(ctx)
	}, e.cfg)

	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	// Permanent 错误由 retry.Do 解包返回；其余按重试耗尽处理
	if attempt >= e.cfg.MaxAttempts {
		e.logger.Warn(ctx, "activity retry budget exhausted",
			logging.String("activity", name),
			logging.Int("attempts", attempt),
			logging.Error(err))
		return errors.WrapError(err, errors.ErrCodeRetryExhausted,
			fmt.Sprintf("activity %s failed after %d attempts", name, attempt))
	}
	return err
}
