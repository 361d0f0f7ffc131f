package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/octerm/octerm-hub/pkg/handlers"
	"go.uber.org/zap"
)

const DefaultSubjectPrefix = "octerm.forward"

type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// NatsForwarder publishes forwarded client commands as JSON on
// "<prefix>.<clientId>".
type NatsForwarder struct {
	pub    Publisher
	prefix string
	log    *zap.Logger
}

func CreateNatsForwarder(pub Publisher, subjectPrefix string, logger *zap.Logger) *NatsForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	return &NatsForwarder{
		pub:    pub,
		prefix: subjectPrefix,
		log:    logger.With(zap.String("component", "forward")),
	}
}

func (f *NatsForwarder) Subject(clientId int64) string {
	return f.prefix + "." + strconv.FormatInt(clientId, 10)
}

func (f *NatsForwarder) Forward(ctx context.Context, msg handlers.ForwardedMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode forwarded message: %w", err)
	}

	natsMsg := nats.NewMsg(f.Subject(msg.ClientId))
	natsMsg.Data = data
	natsMsg.Header.Set("Content-Type", "application/json")

	if err := f.pub.PublishMsg(natsMsg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	f.log.Debug("Forwarded client command", zap.Int64("clientId", msg.ClientId), zap.String("subject", natsMsg.Subject))
	return nil
}
