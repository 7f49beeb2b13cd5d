package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/rgranatodutra/wwebjs-api/message"
)

// Publisher is the slice of a NATS connection the emitter needs.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATS publishes events as JSON to per-kind subjects:
// wwebjs.events.{sessionID}.{kind}.
type NATS struct {
	conn      Publisher
	sessionID string
	logger    *slog.Logger
}

// NewNATS builds a NATS emitter over an established connection.
func NewNATS(conn Publisher, sessionID string, logger *slog.Logger) *NATS {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{conn: conn, sessionID: sessionID, logger: logger}
}

var _ Emitter = (*NATS)(nil)

// Emit publishes the event. Failures are logged, never propagated.
func (n *NATS) Emit(_ context.Context, event message.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal event", "kind", event.Kind(), "error", err)
		return
	}

	subject := fmt.Sprintf("wwebjs.events.%s.%s", n.sessionID, event.Kind())
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error("failed to publish event", "subject", subject, "error", err)
	}
}
