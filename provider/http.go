package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"stratus/errors"
	"stratus/logging"
	"stratus/model"
)

// HTTPRelay 基于 HTTP POST 的命令通道
type HTTPRelay struct {
	client *http.Client
	logger logging.Logger
}

// NewHTTPRelay 创建 HTTP 通道；client 为 nil 时使用 http.DefaultClient
//
// 超时由调用方的 ctx 控制，client 不应再设置自己的 Timeout。
func NewHTTPRelay(client *http.Client) *HTTPRelay {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRelay{
		client: client,
		logger: logging.ComponentLogger("provider.http"),
	}
}

// Relay POST 命令到 Provider 注册的地址并解析应答
func (r *HTTPRelay) Relay(ctx context.Context, target *model.Provider, cmd *model.Command, doc model.IDocument) error {
	if target.URL == "" {
		return errors.NewError(errors.ErrCodeValidation, "provider has no url").
			WithContext("provider", target.ID)
	}

	body, err := encodeRequest(cmd, doc)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeProvider, "build provider request").
			WithContext("provider", target.ID)
	}
	req.Header.Set("Content-Type", "application/json")

	r.logger.Debug(ctx, "relaying command over http",
		logging.String("provider", target.ID),
		logging.String("url", target.URL))

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.WrapError(err, errors.ErrCodeTimeout, "provider did not reply in time").
				WithContext("provider", target.ID)
		}
		return errors.WrapError(err, errors.ErrCodeProvider, "http request failed").
			WithContext("provider", target.ID)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeProvider, "read provider response").
			WithContext("provider", target.ID)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewError(errors.ErrCodeProvider, fmt.Sprintf("provider returned status %d", resp.StatusCode)).
			WithContext("provider", target.ID)
	}
	return decodeResponse(target.ID, payload)
}

var _ IRelay = (*HTTPRelay)(nil)
