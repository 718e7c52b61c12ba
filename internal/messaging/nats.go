package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"payment_verifier/types"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultCompletedSubject = "payment.verification.completed"

type NATSClient interface {
	PublishVerificationCompleted(ctx context.Context, outcome *types.VerificationOutcome) error
	SubscribeToVerificationCompleted(ctx context.Context, handler func(*types.VerificationOutcome)) error
	Close()
}

// natsConn: то, что клиенту нужно от *nats.Conn
type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

type natsClient struct {
	conn    natsConn
	subject string
	logger  *zap.Logger
}

func NewNATSClient(url, subject string, logger *zap.Logger) (NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.Name("payment-verifier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return newNATSClient(conn, subject, logger), nil
}

func newNATSClient(conn natsConn, subject string, logger *zap.Logger) *natsClient {
	if subject == "" {
		subject = DefaultCompletedSubject
	}
	return &natsClient{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}
}

func (c *natsClient) PublishVerificationCompleted(ctx context.Context, outcome *types.VerificationOutcome) error {
	if outcome == nil {
		return fmt.Errorf("verification outcome is nil")
	}

	data, err := json.Marshal(outcome)
	if err != nil {
		c.logger.Error("failed to marshal verification outcome", zap.Error(err))
		return fmt.Errorf("failed to marshal verification outcome: %w", err)
	}

	err = c.conn.Publish(c.subject, data)
	if err != nil {
		c.logger.Error("failed to publish verification outcome", zap.Error(err), zap.String("verification_id", outcome.VerificationID))
		return fmt.Errorf("failed to publish verification outcome: %w", err)
	}

	c.logger.Debug("verification outcome published",
		zap.String("verification_id", outcome.VerificationID),
		zap.String("tx_hash", outcome.TxHash),
		zap.String("status", outcome.Status))
	return nil
}

// SubscribeToVerificationCompleted вызывает handler на каждое сообщение; подписка
// снимается при отмене ctx.
func (c *natsClient) SubscribeToVerificationCompleted(ctx context.Context, handler func(*types.VerificationOutcome)) error {
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		var outcome types.VerificationOutcome
		if err := json.Unmarshal(msg.Data, &outcome); err != nil {
			c.logger.Error("failed to unmarshal verification outcome", zap.Error(err))
			return
		}

		handler(&outcome)
		c.logger.Debug("verification outcome processed", zap.String("verification_id", outcome.VerificationID), zap.String("status", outcome.Status))
	})

	if err != nil {
		c.logger.Error("failed to subscribe to verification outcomes", zap.Error(err))
		return fmt.Errorf("failed to subscribe to verification outcomes: %w", err)
	}

	if done := ctx.Done(); done != nil && sub != nil {
		go func() {
			<-done
			if err := sub.Unsubscribe(); err != nil {
				c.logger.Debug("failed to unsubscribe", zap.Error(err))
			}
		}()
	}

	c.logger.Info("subscribed to verification outcomes", zap.String("subject", c.subject))
	return nil
}

func (c *natsClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("NATS connection closed")
	}
}
