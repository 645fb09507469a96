package provider

import (
	"context"
	"encoding/json"

	"stratus/errors"
	"stratus/model"
)

// IRelay 单个 Provider 的命令通道
type IRelay interface {
	// Relay 把命令与目标文档发送给 Provider 并等待其结果
	Relay(ctx context.Context, target *model.Provider, cmd *model.Command, doc model.IDocument) error
}

// relayRequest Provider 侧约定的请求体：{command, document}
type relayRequest struct {
	Command  json.RawMessage `json:"command"`
	Document json.RawMessage `json:"document,omitempty"`
}

// relayResponse Provider 侧约定的响应体：{result | error}
type relayResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func encodeRequest(cmd *model.Command, doc model.IDocument) ([]byte, error) {
	cmdBody, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInternal, "encode relayed command")
	}
	req := relayRequest{Command: cmdBody}
	if doc != nil {
		docBody, err := json.Marshal(doc)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeInternal, "encode relayed document")
		}
		req.Document = docBody
	}
	return json.Marshal(req)
}

func decodeResponse(providerID string, body []byte) error {
	var resp relayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.WrapError(err, errors.ErrCodeProvider, "decode provider response").
			WithContext("provider", providerID)
	}
	if resp.Error != "" {
		return errors.NewError(errors.ErrCodeProvider, resp.Error).
			WithContext("provider", providerID)
	}
	return nil
}
