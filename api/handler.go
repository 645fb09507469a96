package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"stratus/dispatcher"
	"stratus/errors"
	"stratus/logging"
	"stratus/model"
)

// ICommandService 命令服务接口，由 dispatcher.Dispatcher 实现
type ICommandService interface {
	Submit(ctx context.Context, cmd *model.Command) (*dispatcher.Handle, error)
	GetStatus(ctx context.Context, trackingID string) (*dispatcher.Handle, error)
	Cancel(ctx context.Context, trackingID string) (bool, error)
}

// IIdentityResolver 身份目录解析器
//
// 用户命令在进入编排前解析登录名，解析失败的用户不允许创建实例。
type IIdentityResolver interface {
	// Resolve 将登录名解析为目录对象 ID，未知用户返回 NOT_FOUND
	Resolve(ctx context.Context, loginName string) (string, error)
}

// Handler 命令接口的 HTTP 处理器
type Handler struct {
	service  ICommandService
	identity IIdentityResolver
	logger   logging.Logger
}

// NewHandler 创建处理器；identity 可为 nil（不做身份校验）
func NewHandler(service ICommandService, identity IIdentityResolver) *Handler {
	return &Handler{
		service:  service,
		identity: identity,
		logger:   logging.ComponentLogger("api"),
	}
}

// Mux 构造路由
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/commands", h.submit)
	mux.HandleFunc("GET /api/commands/{trackingId}", h.status)
	mux.HandleFunc("DELETE /api/commands/{trackingId}", h.cancel)
	return mux
}

// locationOf 状态轮询地址
func locationOf(trackingID string) string {
	return fmt.Sprintf("/api/commands/%s", trackingID)
}

// resultOf 由跟踪句柄构造应答体
func resultOf(handle *dispatcher.Handle) StatusResult {
	sr := StatusResult{
		Code:         codeOf(handle.RuntimeStatus),
		Status:       string(handle.RuntimeStatus),
		State:        stateOf(handle.RuntimeStatus),
		StateMessage: handle.CustomStatus,
		TrackingID:   handle.TrackingID,
		Location:     locationOf(handle.TrackingID),
	}
	if handle.Result != nil {
		sr.Errors = handle.Result.Errors
		if handle.CustomStatus == "" {
			sr.StateMessage = handle.Result.CustomStatus
		}
	}
	return sr
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var cmd model.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.writeError(w, errors.WrapError(err, errors.ErrCodeValidation, "malformed command"))
		return
	}
	if cmd.Payload == nil {
		h.writeError(w, errors.NewError(errors.ErrCodeValidation, "command payload is required"))
		return
	}
	if err := h.resolveIdentity(r.Context(), &cmd); err != nil {
		h.writeError(w, err)
		return
	}

	handle, err := h.service.Submit(r.Context(), &cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	sr := resultOf(handle)
	w.Header().Set("Location", sr.Location)
	h.writeJSON(w, sr.Code, sr)
}

// resolveIdentity 用户负载先过身份目录，未知登录名拒绝进入编排
func (h *Handler) resolveIdentity(ctx context.Context, cmd *model.Command) error {
	user, ok := cmd.Payload.(*model.User)
	if !ok || h.identity == nil {
		return nil
	}
	objectID, err := h.identity.Resolve(ctx, user.LoginName)
	if err != nil {
		return err
	}
	user.ID = objectID
	return nil
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	handle, err := h.service.GetStatus(r.Context(), r.PathValue("trackingId"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	sr := resultOf(handle)
	if !handle.Final() {
		w.Header().Set("Location", sr.Location)
	}
	h.writeJSON(w, sr.Code, sr)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	trackingID := r.PathValue("trackingId")
	ok, err := h.service.Cancel(r.Context(), trackingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		// 已终态，取消无效
		h.writeError(w, errors.NewError(errors.ErrCodeConflict, "command already finished"))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error(context.Background(), "write response failed", logging.Error(err))
	}
}

// writeError 错误码到 HTTP 状态码的映射
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeValidation:
		code = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		code = http.StatusNotFound
	case errors.ErrCodeConflict:
		code = http.StatusConflict
	}
	h.writeJSON(w, code, map[string]any{
		"code":    errors.GetErrorCode(err),
		"message": err.Error(),
	})
}
