// Package statestore 持久化编排实例状态与步骤日志
//
// 每条命令对应一个编排实例。实例记录命令本体、运行时状态、自定义状态
// 与结果快照；步骤日志是 append-only 的检查点序列，崩溃恢复时按序号
// 重放已记录的步骤结果，从最后一个检查点之后继续执行。
package statestore

import (
	"context"
	"encoding/json"
	"time"

	"stratus/model"
)

// StepRecord 单步检查点
//
// 记录步骤名、序号与结果。成功步骤记录输出 JSON；失败步骤记录错误码
// 与消息（只有终态失败会被记录——可重试失败在活动层消化，不进日志）。
type StepRecord struct {
	Seq        int             `json:"seq"`
	Name       string          `json:"name"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrCode    string          `json:"errCode,omitempty"`
	ErrMessage string          `json:"errMessage,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Failed 该步骤是否以终态错误落盘
func (r StepRecord) Failed() bool { return r.ErrCode != "" }

// Instance 编排实例状态
type Instance struct {
	// InstanceID 即命令 ID，保证同一命令幂等提交映射到同一实例
	InstanceID string `json:"instanceId"`

	Descriptor string          `json:"descriptor"`
	Command    json.RawMessage `json:"command"`

	Status       model.RuntimeStatus `json:"status"`
	CustomStatus string              `json:"customStatus,omitempty"`

	// CancelRequested 置位后编排在下一个步骤边界停止
	CancelRequested bool `json:"cancelRequested,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
	Steps  []StepRecord    `json:"steps,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewInstance 从命令创建待运行实例
func NewInstance(cmd *model.Command) (*Instance, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Instance{
		InstanceID: cmd.CommandID.String(),
		Descriptor: cmd.Descriptor(),
		Command:    body,
		Status:     model.RuntimeStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// DecodeCommand 还原命令本体
func (i *Instance) DecodeCommand() (*model.Command, error) {
	var cmd model.Command
	if err := json.Unmarshal(i.Command, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// MarkRunning 标记实例进入运行态
func (i *Instance) MarkRunning() {
	i.Status = model.RuntimeStatusRunning
	i.UpdatedAt = time.Now().UTC()
}

// Finalize 落盘终态与结果快照
func (i *Instance) Finalize(status model.RuntimeStatus, result *model.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	i.Status = status
	i.Result = body
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// DecodeResult 还原结果快照；实例尚无结果时返回 (nil, nil)
func (i *Instance) DecodeResult() (*model.CommandResult, error) {
	if len(i.Result) == 0 {
		return nil, nil
	}
	var result model.CommandResult
	if err := json.Unmarshal(i.Result, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Clone 深拷贝
func (i *Instance) Clone() *Instance {
	dup := *i
	dup.Command = append(json.RawMessage(nil), i.Command...)
	dup.Result = append(json.RawMessage(nil), i.Result...)
	dup.Steps = make([]StepRecord, len(i.Steps))
	for n, s := range i.Steps {
		dup.Steps[n] = s
		dup.Steps[n].Output = append(json.RawMessage(nil), s.Output...)
	}
	return &dup
}

// IInstanceStore 实例状态存储接口
//
// 实现建议：
//   - Save 使用 UPSERT，幂等
//   - AppendStep 追加写，不覆盖既有记录
//   - 步骤日志与实例记录的一致性由调用方的持锁写入保障
type IInstanceStore interface {
	// Get 加载实例；不存在返回 ErrInstanceNotFound
	Get(ctx context.Context, instanceID string) (*Instance, error)

	// Save 保存实例（UPSERT）
	Save(ctx context.Context, instance *Instance) error

	// AppendStep 追加步骤检查点
	AppendStep(ctx context.Context, instanceID string, record StepRecord) error

	// ResetSteps 清空步骤日志（continue-as-new 重置检查点）
	ResetSteps(ctx context.Context, instanceID string) error

	// RequestCancel 置位取消标志；实例已终态时为 no-op 并返回 false
	RequestCancel(ctx context.Context, instanceID string) (bool, error)

	// ListActive 列出所有非终态实例（崩溃恢复用）
	ListActive(ctx context.Context) ([]*Instance, error)
}
