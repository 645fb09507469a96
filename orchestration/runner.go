package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stratus/activity"
	"stratus/errors"
	"stratus/locking"
	"stratus/logging"
	"stratus/model"
	"stratus/orchestration/statestore"
)

// Definition 编排定义：执行一条命令，返回结果文档
//
// 定义必须是确定性的，所有副作用经由 Step 系列函数路由。
type Definition func(ctx context.Context, oc *Context, cmd *model.Command) (model.IDocument, error)

// Registry 按命令描述符路由编排定义
type Registry struct {
	mutex sync.RWMutex
	defs  map[string]Definition
}

// NewRegistry 创建编排注册表
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register 注册描述符对应的编排定义，后注册覆盖先注册
func (r *Registry) Register(descriptor string, def Definition) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.defs[descriptor] = def
}

// Resolve 按描述符解析编排定义
func (r *Registry) Resolve(descriptor string) (Definition, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	def, ok := r.defs[descriptor]
	return def, ok
}

// Config 编排运行时配置
type Config struct {
	// RescheduleDelay continue-as-new 后的重新执行延迟
	RescheduleDelay time.Duration

	// KeepAliveInterval 持锁期间的租约续约间隔
	KeepAliveInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		RescheduleDelay:   2 * time.Second,
		KeepAliveInterval: 10 * time.Second,
	}
}

// Runner 驱动编排实例执行
//
// Execute 的收尾块保证执行：无论成功、失败、panic 还是取消，
// 实例都以终态与序列化结果落盘。
type Runner struct {
	store  statestore.IInstanceStore
	locks  locking.ILockManager
	exec   *activity.Executor
	cfg    Config
	logger logging.Logger
}

// NewRunner 创建编排 Runner；cfg 为零值时使用默认配置
func NewRunner(store statestore.IInstanceStore, locks locking.ILockManager, exec *activity.Executor, cfg Config) *Runner {
	if cfg.RescheduleDelay <= 0 {
		cfg.RescheduleDelay = DefaultConfig().RescheduleDelay
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}
	return &Runner{
		store:  store,
		locks:  locks,
		exec:   exec,
		cfg:    cfg,
		logger: logging.ComponentLogger("orchestration.runner"),
	}
}

// Execute 执行（或恢复）一个编排实例直至终态，返回最终结果
//
// continue-as-new 在此消化：清空步骤日志、延迟后重载实例重新执行。
// 返回的 error 仅表示运行时自身的故障（状态存储不可用等）；命令级
// 失败体现在返回的 CommandResult.Errors 中。
func (r *Runner) Execute(ctx context.Context, instanceID string, def Definition) (*model.CommandResult, error) {
	instance, err := r.store.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	cmd, err := instance.DecodeCommand()
	if err != nil {
		return nil, err
	}

	result := model.NewCommandResult(cmd)
	result.MarkRunning(fmt.Sprintf("Processing %s", cmd.Descriptor()))
	instance.MarkRunning()
	instance.CustomStatus = result.CustomStatus
	if err := r.store.Save(ctx, instance); err != nil {
		return nil, err
	}

	r.logger.Info(ctx, "orchestration started",
		logging.String("instance_id", instanceID),
		logging.String("descriptor", cmd.Descriptor()))

	var output model.IDocument
	var runErr error
	for {
		oc := newContext(instance, r.store, r.locks, r.exec, result, r.cfg)
		output, runErr = r.invoke(ctx, oc, def, cmd)
		if !IsContinueAsNew(runErr) {
			break
		}

		r.logger.Debug(ctx, "orchestration rescheduled",
			logging.String("instance_id", instanceID),
			logging.Duration("delay", r.cfg.RescheduleDelay))

		if err := r.store.ResetSteps(ctx, instanceID); err != nil {
			runErr = err
			break
		}
		select {
		case <-ctx.Done():
			runErr = errors.WrapError(ctx.Err(), errors.ErrCodeCancelled, "runtime shut down while rescheduled")
		case <-time.After(r.cfg.RescheduleDelay):
			instance, err = r.store.Get(ctx, instanceID)
			if err != nil {
				runErr = err
			}
		}
		if runErr != nil {
			break
		}
	}

	// 收尾：无论哪条路径都落盘终态结果
	if runErr != nil {
		result.AddError(runErr)
	}
	result.Finalize(output)

	instance.CustomStatus = result.CustomStatus
	if err := instance.Finalize(result.RuntimeStatus, result); err != nil {
		return nil, err
	}
	if err := r.store.Save(context.WithoutCancel(ctx), instance); err != nil {
		r.logger.Error(ctx, "failed to persist final instance state",
			logging.String("instance_id", instanceID),
			logging.Error(err))
		return nil, err
	}

	r.logger.Info(ctx, "orchestration finished",
		logging.String("instance_id", instanceID),
		logging.String("status", string(result.RuntimeStatus)))
	return result, nil
}

// invoke 带 panic 恢复地调用编排定义
func (r *Runner) invoke(ctx context.Context, oc *Context, def Definition, cmd *model.Command) (output model.IDocument, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.NewError(errors.ErrCodeInternal, fmt.Sprintf("orchestration panic: %v", rec))
			r.logger.Error(ctx, "orchestration panicked",
				logging.String("instance_id", oc.instance.InstanceID),
				logging.Any("panic", rec))
		}
	}()
	return def(ctx, oc, cmd)
}
