package model

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stratus/errors"
)

// RuntimeStatus 编排实例运行状态
type RuntimeStatus string

const (
	RuntimeStatusPending   RuntimeStatus = "Pending"
	RuntimeStatusRunning   RuntimeStatus = "Running"
	RuntimeStatusCompleted RuntimeStatus = "Completed"
	RuntimeStatusFailed    RuntimeStatus = "Failed"
	RuntimeStatusCanceled  RuntimeStatus = "Canceled"
)

// IsFinal 是否为终态
func (s RuntimeStatus) IsFinal() bool {
	return s == RuntimeStatusCompleted || s == RuntimeStatusFailed || s == RuntimeStatusCanceled
}

// CommandError 可序列化的命令错误，保留类型与消息供客户端区分错误类别
type CommandError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Detail  string           `json:"detail,omitempty"`
}

func (e CommandError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewCommandError 从任意错误构造可序列化形态
func NewCommandError(err error) CommandError {
	if err == nil {
		return CommandError{}
	}
	ce := CommandError{
		Code:    errors.GetErrorCode(err),
		Message: err.Error(),
	}
	var appErr *errors.AppError
	if stdErrors.As(err, &appErr) {
		ce.Message = appErr.Message()
		if cause := appErr.Cause(); cause != nil {
			ce.Detail = cause.Error()
		}
	}
	return ce
}

// CommandResult 命令结果累加器，由执行该命令的编排实例持有
//
// 在编排开始时创建，每个主要步骤后更新，并在保证执行的 finalizer 中
// 最终化（无论成功或失败路径）。Errors 非空即命令失败。
type CommandResult struct {
	CommandID     uuid.UUID      `json:"commandId"`
	RuntimeStatus RuntimeStatus  `json:"runtimeStatus"`
	CustomStatus  string         `json:"customStatus,omitempty"`
	Errors        []CommandError `json:"errors,omitempty"`
	Result        IDocument      `json:"-"`
	CreatedAt     time.Time      `json:"createdAt"`
	LastUpdatedAt time.Time      `json:"lastUpdatedAt"`
}

// NewCommandResult 为命令创建结果累加器
func NewCommandResult(cmd *Command) *CommandResult {
	now := time.Now().UTC()
	return &CommandResult{
		CommandID:     cmd.CommandID,
		RuntimeStatus: RuntimeStatusPending,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

// AddError 追加错误并刷新更新时间
func (r *CommandResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, NewCommandError(err))
	r.LastUpdatedAt = time.Now().UTC()
}

// GetError 返回首个错误（命令的代表性失败），无错误返回 nil
func (r *CommandResult) GetError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Succeeded 命令是否成功（终态且无错误）
func (r *CommandResult) Succeeded() bool {
	return r.RuntimeStatus == RuntimeStatusCompleted && len(r.Errors) == 0
}

// MarkRunning 标记开始执行
func (r *CommandResult) MarkRunning(customStatus string) {
	r.RuntimeStatus = RuntimeStatusRunning
	r.CustomStatus = customStatus
	r.LastUpdatedAt = time.Now().UTC()
}

// Finalize 最终化：根据错误列表决定终态并设置状态文本
func (r *CommandResult) Finalize(result IDocument) {
	r.Result = result
	switch {
	case r.hasCancellation():
		r.RuntimeStatus = RuntimeStatusCanceled
		r.CustomStatus = "Command canceled"
	case len(r.Errors) > 0:
		r.RuntimeStatus = RuntimeStatusFailed
		r.CustomStatus = fmt.Sprintf("Command failed: %s", r.Errors[0].Message)
	default:
		r.RuntimeStatus = RuntimeStatusCompleted
		r.CustomStatus = "Command succeeded"
	}
	r.LastUpdatedAt = time.Now().UTC()
}

func (r *CommandResult) hasCancellation() bool {
	for _, e := range r.Errors {
		if e.Code == errors.ErrCodeCancelled {
			return true
		}
	}
	return false
}

// resultEnvelope 结果的持久化形态，Result 带类型标签
type resultEnvelope struct {
	CommandID     uuid.UUID       `json:"commandId"`
	RuntimeStatus RuntimeStatus   `json:"runtimeStatus"`
	CustomStatus  string          `json:"customStatus,omitempty"`
	Errors        []CommandError  `json:"errors,omitempty"`
	ResultKind    DocumentKind    `json:"resultKind,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`
}

func (r *CommandResult) MarshalJSON() ([]byte, error) {
	env := resultEnvelope{
		CommandID:     r.CommandID,
		RuntimeStatus: r.RuntimeStatus,
		CustomStatus:  r.CustomStatus,
		Errors:        r.Errors,
		CreatedAt:     r.CreatedAt,
		LastUpdatedAt: r.LastUpdatedAt,
	}
	if r.Result != nil {
		raw, err := json.Marshal(r.Result)
		if err != nil {
			return nil, err
		}
		env.ResultKind = r.Result.Kind()
		env.Result = raw
	}
	return json.Marshal(env)
}

func (r *CommandResult) UnmarshalJSON(data []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	r.CommandID = env.CommandID
	r.RuntimeStatus = env.RuntimeStatus
	r.CustomStatus = env.CustomStatus
	r.Errors = env.Errors
	r.CreatedAt = env.CreatedAt
	r.LastUpdatedAt = env.LastUpdatedAt
	r.Result = nil

	if env.ResultKind != "" {
		doc, err := NewDocument(env.ResultKind)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(env.Result, doc); err != nil {
			return err
		}
		r.Result = doc
	}
	return nil
}
