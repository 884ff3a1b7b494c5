package natsadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectNotifyUser = "geotrack.notify.user.%d"

var ackOK = []byte("ok")

// Broker implements ports.RecipientBroker with core NATS request/reply. The
// instance holding a recipient's live connection answers on that
// recipient's subject.
type Broker struct {
	conn    *nats.Conn
	timeout time.Duration
}

// NewBroker returns a broker whose Deliver waits at most timeout for the
// owning instance to answer.
func NewBroker(conn *nats.Conn, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Broker{conn: conn, timeout: timeout}
}

func (b *Broker) Deliver(ctx context.Context, recipientID int64, payload []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	reply, err := b.conn.RequestWithContext(ctx, fmt.Sprintf(subjectNotifyUser, recipientID), payload)
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("live relay: %w", err)
	}
	return string(reply.Data) == string(ackOK), nil
}

func (b *Broker) Serve(recipientID int64, deliver func(payload []byte) error) (func(), error) {
	sub, err := b.conn.Subscribe(fmt.Sprintf(subjectNotifyUser, recipientID), func(msg *nats.Msg) {
		if err := deliver(msg.Data); err != nil {
			_ = msg.Respond([]byte(err.Error()))
			return
		}
		_ = msg.Respond(ackOK)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
