// Package inbound normalizes raw protocol message traffic into canonical
// application events. It consumes the three batch entry points bound by the
// session lifecycle manager: new-message upserts, per-message status updates
// and history backfill sets.
package inbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/rgranatodutra/wwebjs-api/audit"
	"github.com/rgranatodutra/wwebjs-api/emitter"
	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/mapper"
	"github.com/rgranatodutra/wwebjs-api/message"
	"github.com/rgranatodutra/wwebjs-api/metric"
	"github.com/rgranatodutra/wwebjs-api/session"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

// Pipeline normalizes inbound traffic for one session. It implements
// session.InboundHandlers.
type Pipeline struct {
	session *session.Session
	store   storage.Store
	mapper  *mapper.Mapper
	emitter emitter.Emitter
	audit   *audit.Sink
	logger  *slog.Logger
	metrics *Metrics
}

// New builds an inbound Pipeline. A nil registry disables metrics.
func New(sess *session.Session, store storage.Store, m *mapper.Mapper, em emitter.Emitter, sink *audit.Sink, logger *slog.Logger, registry *metric.MetricsRegistry) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		session: sess,
		store:   store,
		mapper:  m,
		emitter: em,
		audit:   sink,
		logger:  logger.With("session", sess.SessionID()),
		metrics: newMetrics(registry),
	}
}

// HandleUpsert processes a batch of newly arrived raw messages: self-authored
// entries are skipped, the rest are persisted, normalized and emitted. One
// message's failure never blocks the rest of the batch.
func (p *Pipeline) HandleUpsert(ctx context.Context, batch []*wire.Message) {
	if len(batch) == 0 {
		return
	}

	sock, err := p.session.Socket()
	if err != nil {
		p.logger.Error("dropping upsert batch, no active socket", "count", len(batch))
		return
	}

	selfPhone := p.session.SelfPhone()
	for _, raw := range batch {
		p.processUpsert(ctx, sock, raw, selfPhone)
	}
}

func (p *Pipeline) processUpsert(ctx context.Context, sock wire.Socket, raw *wire.Message, selfPhone string) {
	if raw == nil || raw.Message == nil {
		return
	}
	if raw.Key.FromMe {
		p.metrics.recordSkippedSelf()
		return
	}

	rec := p.audit.Begin("Message Received", raw.Key)
	rec.Log("raw message received", raw.Key.ID)

	if err := p.store.SaveRawMessage(ctx, p.session.SessionID(), raw.Message, raw.Key); err != nil {
		// Persistence is required for later edits; normalization continues
		// regardless so a storage hiccup does not drop live traffic.
		p.logger.Error("failed to persist raw message", "message_id", raw.Key.ID, "error", err)
		rec.Log("raw message persistence failed", err.Error())
	}

	msg, err := p.mapper.Map(ctx, sock, raw, selfPhone)
	if err != nil {
		p.metrics.recordFailure()
		p.logger.Error("failed to normalize message", "message_id", raw.Key.ID, "error", err)
		rec.Failed(errors.Wrap(err, "Pipeline", "processUpsert", "normalizing message"))
		return
	}

	p.emitter.Emit(ctx, message.NewMessageReceived(p.session.ClientID(), msg))
	p.metrics.recordProcessed(string(msg.Type))
	rec.Success(msg.StanzaID)
}

// HandleUpdates processes a batch of per-message updates. Only updates that
// carry a delivery status produce events; the rest are ignored.
func (p *Pipeline) HandleUpdates(ctx context.Context, batch []wire.MessageUpdate) {
	if len(batch) == 0 {
		return
	}

	rec := p.audit.Begin("Messages Update", map[string]any{"count": len(batch)})

	emitted := 0
	for _, update := range batch {
		if !update.HasStatus {
			continue
		}

		status := message.ParseAck(update.Status)
		p.emitter.Emit(ctx, message.NewMessageStatusReceived(
			p.session.ClientID(), update.Key.ID, status, time.Now().UnixMilli()))
		p.metrics.recordStatusUpdate(string(status))
		emitted++
	}

	rec.Success(map[string]any{"emitted": emitted})
}

// HandleHistorySet persists a history backfill batch. Backfilled messages
// feed the raw message store for later edits and retries but produce no
// events.
func (p *Pipeline) HandleHistorySet(ctx context.Context, batch []*wire.Message) {
	if len(batch) == 0 {
		return
	}

	rec := p.audit.Begin("History Set", map[string]any{"count": len(batch)})

	saved, failed := 0, 0
	for _, raw := range batch {
		if raw == nil || raw.Message == nil {
			continue
		}
		if err := p.store.SaveRawMessage(ctx, p.session.SessionID(), raw.Message, raw.Key); err != nil {
			p.logger.Warn("failed to persist history message", "message_id", raw.Key.ID, "error", err)
			rec.Log("history message persistence failed", err.Error())
			failed++
			continue
		}
		saved++
	}

	if failed > 0 && saved == 0 {
		rec.Failed(errors.Wrap(errors.ErrStorageUnavailable, "Pipeline", "HandleHistorySet", "persisting history batch"))
		return
	}
	rec.Success(map[string]any{"saved": saved, "failed": failed})
}
