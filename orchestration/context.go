// Package orchestration 提供可重放的命令编排运行时
//
// 每条命令由一个编排实例执行。编排代码通过 Step 调用活动：每个步骤
// 的结果以检查点形式追加进步骤日志；进程崩溃后恢复时，已记录的步骤
// 按序重放其结果而不重新执行副作用，执行从最后一个检查点之后继续。
//
// 由此编排代码必须是确定性的：不得在步骤之外读取时钟、随机数或做
// I/O——所有副作用都经由 Step 路由。锁是短暂的，不进步骤日志，恢复
// 时由 WithLock 重新获取。
package orchestration

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"time"

	"stratus/activity"
	"stratus/errors"
	"stratus/locking"
	"stratus/logging"
	"stratus/model"
	"stratus/orchestration/statestore"
)

// errContinueAsNew 哨兵错误：编排请求清空历史、延迟后重新执行
var errContinueAsNew = stdErrors.New("orchestration continue as new")

// IsContinueAsNew 是否为 continue-as-new 请求
func IsContinueAsNew(err error) bool {
	return stdErrors.Is(err, errContinueAsNew)
}

// Context 单个编排实例的执行上下文
//
// 持有重放游标：cursor 之前的步骤从日志重放，之后的步骤真实执行并落盘。
// 非并发安全，一个实例同一时刻只被一个 worker 驱动。
type Context struct {
	instance *statestore.Instance
	store    statestore.IInstanceStore
	locks    locking.ILockManager
	exec     *activity.Executor
	result   *model.CommandResult
	cfg      Config
	logger   logging.Logger

	cursor     int
	cancelSeen bool
}

func newContext(instance *statestore.Instance, store statestore.IInstanceStore,
	locks locking.ILockManager, exec *activity.Executor,
	result *model.CommandResult, cfg Config) *Context {
	return &Context{
		instance: instance,
		store:    store,
		locks:    locks,
		exec:     exec,
		result:   result,
		cfg:      cfg,
		logger:   logging.ComponentLogger("orchestration.context"),
	}
}

// Owner 锁与仓储守卫使用的持有者标识，即实例 ID
func (oc *Context) Owner() string { return oc.instance.InstanceID }

// ContinueAsNew 请求清空步骤日志并在短延迟后重新执行整个编排
//
// 用于依赖处于非终态时的让路等待，替代同步轮询。
func (oc *Context) ContinueAsNew() error { return errContinueAsNew }

// SetCustomStatus 更新可轮询的进度文本
//
// 写入失败仅记日志：进度文本是尽力而为的增益信息，不阻断编排。
func (oc *Context) SetCustomStatus(ctx context.Context, status string) {
	oc.result.MarkRunning(status)
	oc.instance.CustomStatus = status
	oc.instance.UpdatedAt = time.Now().UTC()
	if err := oc.store.Save(ctx, oc.instance); err != nil {
		oc.logger.Warn(ctx, "failed to persist custom status",
			logging.String("instance_id", oc.instance.InstanceID),
			logging.Error(err))
	}
}

// WithLock 按全局固定顺序获取全部锁后执行 fn，所有退出路径保证释放
//
// 持锁期间后台续约租约，fn 返回后停止续约并按逆序释放。
// 锁不进步骤日志：恢复执行时重新获取。
func (oc *Context) WithLock(ctx context.Context, fn func(ctx context.Context) error, keys ...locking.LockKey) error {
	locking.SortKeys(keys)

	var handles []*locking.LockHandle
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			if err := oc.locks.Release(context.WithoutCancel(ctx), handles[i]); err != nil {
				oc.logger.Warn(ctx, "failed to release lock",
					logging.String("key", handles[i].Key.String()),
					logging.Error(err))
			}
		}
	}()

	for _, key := range keys {
		handle, err := oc.locks.Acquire(ctx, key, oc.Owner())
		if err != nil {
			return err
		}
		handles = append(handles, handle)
	}

	stop := oc.keepAlive(handles)
	defer stop()

	return fn(ctx)
}

// keepAlive 后台续约租约，防止长编排期间租约过期
func (oc *Context) keepAlive(handles []*locking.LockHandle) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(oc.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for _, handle := range handles {
					if err := oc.locks.KeepAlive(context.Background(), handle); err != nil {
						oc.logger.Warn(context.Background(), "lock keepalive failed",
							logging.String("key", handle.Key.String()),
							logging.Error(err))
					}
				}
			}
		}
	}()
	return func() { close(done) }
}

// checkCancel 步骤边界取消检查
//
// 只在首次观察到取消时返回错误；之后的步骤（失败路径的状态落盘）
// 照常执行，让编排有机会把资源标记为 Failed 并完成收尾。
func (oc *Context) checkCancel(ctx context.Context) error {
	if oc.cancelSeen {
		return nil
	}
	current, err := oc.store.Get(ctx, oc.instance.InstanceID)
	if err != nil {
		return err
	}
	if current.CancelRequested {
		oc.cancelSeen = true
		oc.instance.CancelRequested = true
		return errors.ErrCancelled
	}
	return nil
}

// step 重放或执行一个命名步骤，返回输出 JSON 与是否来自重放
func (oc *Context) step(ctx context.Context, name string, exec func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if oc.cursor < len(oc.instance.Steps) {
		record := oc.instance.Steps[oc.cursor]
		if record.Name != name {
			return nil, false, errors.NewError(errors.ErrCodeNondeterminism, "replayed step does not match orchestration code").
				WithContext("expected", record.Name).
				WithContext("actual", name).
				WithContext("seq", record.Seq)
		}
		oc.cursor++
		oc.logger.Debug(ctx, "replaying step",
			logging.String("instance_id", oc.instance.InstanceID),
			logging.String("step", name),
			logging.Int("seq", record.Seq))
		if record.Failed() {
			return nil, true, errors.NewError(errors.ErrorCode(record.ErrCode), record.ErrMessage)
		}
		return record.Output, true, nil
	}

	if err := oc.checkCancel(ctx); err != nil {
		return nil, false, err
	}

	output, err := exec(ctx)

	record := statestore.StepRecord{
		Seq:        oc.cursor,
		Name:       name,
		RecordedAt: time.Now().UTC(),
	}
	if err != nil {
		record.ErrCode = string(errors.GetErrorCode(err))
		record.ErrMessage = err.Error()
	} else {
		record.Output = output
	}

	if appendErr := oc.store.AppendStep(ctx, oc.instance.InstanceID, record); appendErr != nil {
		return nil, false, appendErr
	}
	oc.instance.Steps = append(oc.instance.Steps, record)
	oc.cursor++
	return output, false, err
}

// Step 执行或重放一个类型化步骤
//
// 真实执行经由活动执行器（带重试）；输出 JSON 落入步骤日志，
// 重放路径从日志反序列化还原。
func Step[T any](ctx context.Context, oc *Context, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, replayed, err := oc.step(ctx, name, func(ctx context.Context) (json.RawMessage, error) {
		runErr := oc.exec.Run(ctx, name, func(ctx context.Context) error {
			var opErr error
			out, opErr = op(ctx)
			return opErr
		})
		if runErr != nil {
			return nil, runErr
		}
		return json.Marshal(out)
	})
	if err != nil {
		return out, err
	}
	if replayed && len(raw) > 0 {
		if unmarshalErr := json.Unmarshal(raw, &out); unmarshalErr != nil {
			return out, errors.WrapError(unmarshalErr, errors.ErrCodeInternal, "decode replayed step output")
		}
	}
	return out, nil
}

// StepDocument 文档步骤，重放时按 kind 还原具体类型
//
// op 返回 nil 文档（NotFound 短路）时记录空输出，重放同样得到 nil。
func StepDocument(ctx context.Context, oc *Context, name string, kind model.DocumentKind, op func(ctx context.Context) (model.IDocument, error)) (model.IDocument, error) {
	var out model.IDocument
	raw, replayed, err := oc.step(ctx, name, func(ctx context.Context) (json.RawMessage, error) {
		runErr := oc.exec.Run(ctx, name, func(ctx context.Context) error {
			var opErr error
			out, opErr = op(ctx)
			return opErr
		})
		if runErr != nil {
			return nil, runErr
		}
		if out == nil {
			return nil, nil
		}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		if len(raw) == 0 || string(raw) == "null" {
			return nil, nil
		}
		doc, docErr := model.NewDocument(kind)
		if docErr != nil {
			return nil, docErr
		}
		if unmarshalErr := json.Unmarshal(raw, doc); unmarshalErr != nil {
			return nil, errors.WrapError(unmarshalErr, errors.ErrCodeInternal, "decode replayed document")
		}
		out = doc
	}
	return out, nil
}

// StepDo 无输出的副作用步骤
func StepDo(ctx context.Context, oc *Context, name string, op func(ctx context.Context) error) error {
	_, _, err := oc.step(ctx, name, func(ctx context.Context) (json.RawMessage, error) {
		return nil, oc.exec.Run(ctx, name, op)
	})
	return err
}
