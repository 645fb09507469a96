// Package api 对外的命令提交与状态轮询接口
//
// 提交命令返回 202 与 Location 头，客户端沿 Location 轮询直到终态。
// 运行中的实例轮询仍返回 202，终态返回 200 并附带最终结果。
package api

import (
	"net/http"

	"stratus/model"
)

// CommandState 对外暴露的命令状态
type CommandState string

const (
	StateRunning   CommandState = "Running"
	StateCompleted CommandState = "Completed"
	StateFailed    CommandState = "Failed"
	StateCanceled  CommandState = "Canceled"
)

// StatusResult 状态轮询应答体
type StatusResult struct {
	Code         int                  `json:"code"`
	Status       string               `json:"status"`
	State        CommandState         `json:"state"`
	StateMessage string               `json:"stateMessage,omitempty"`
	TrackingID   string               `json:"trackingId"`
	Errors       []model.CommandError `json:"errors,omitempty"`
	Location     string               `json:"location,omitempty"`
}

// stateOf 运行状态到对外状态的映射
func stateOf(status model.RuntimeStatus) CommandState {
	switch status {
	case model.RuntimeStatusCompleted:
		return StateCompleted
	case model.RuntimeStatusFailed:
		return StateFailed
	case model.RuntimeStatusCanceled:
		return StateCanceled
	}
	return StateRunning
}

// codeOf 运行状态到 HTTP 状态码的映射，非终态一律 202
func codeOf(status model.RuntimeStatus) int {
	if status.IsFinal() {
		return http.StatusOK
	}
	return http.StatusAccepted
}
