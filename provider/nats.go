package provider

import (
	"context"

	"github.com/nats-io/nats.go"

	"stratus/errors"
	"stratus/logging"
	"stratus/model"
)

// natsConn *nats.Conn 的最小接口，便于测试注入
type natsConn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSRelay 基于 NATS request/reply 的命令通道
//
// 超时由调用方的 ctx 控制（扇出为每次调用套单独的超时）。
type NATSRelay struct {
	conn   natsConn
	logger logging.Logger
}

// NewNATSRelay 创建 NATS 通道；conn 通常为 *nats.Conn
func NewNATSRelay(conn natsConn) *NATSRelay {
	return &NATSRelay{
		conn:   conn,
		logger: logging.ComponentLogger("provider.nats"),
	}
}

// Connect 连接 NATS 服务器
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeProvider, "connect to nats")
	}
	return conn, nil
}

// Relay 经 Provider 注册的主题发送命令并等待应答
func (r *NATSRelay) Relay(ctx context.Context, target *model.Provider, cmd *model.Command, doc model.IDocument) error {
	if target.Subject == "" {
		return errors.NewError(errors.ErrCodeValidation, "provider has no nats subject").
			WithContext("provider", target.ID)
	}

	body, err := encodeRequest(cmd, doc)
	if err != nil {
		return err
	}

	r.logger.Debug(ctx, "relaying command over nats",
		logging.String("provider", target.ID),
		logging.String("subject", target.Subject))

	msg, err := r.conn.RequestWithContext(ctx, target.Subject, body)
	if err != nil {
		if ctx.Err() != nil {
			return errors.WrapError(err, errors.ErrCodeTimeout, "provider did not reply in time").
				WithContext("provider", target.ID)
		}
		return errors.WrapError(err, errors.ErrCodeProvider, "nats request failed").
			WithContext("provider", target.ID)
	}
	return decodeResponse(target.ID, msg.Data)
}

var _ IRelay = (*NATSRelay)(nil)
