// Package outbound implements the send and edit pipelines: destination
// normalization, tagged content construction, typing humanization, dispatch
// through the session's current socket, and the alternate-country-format
// retry policy.
package outbound

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/rgranatodutra/wwebjs-api/address"
	"github.com/rgranatodutra/wwebjs-api/audit"
	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/mapper"
	"github.com/rgranatodutra/wwebjs-api/message"
	"github.com/rgranatodutra/wwebjs-api/metric"
	"github.com/rgranatodutra/wwebjs-api/session"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

// Default per-character typing speed bounds.
const (
	DefaultMinTypingSpeed = 50 * time.Millisecond
	DefaultMaxTypingSpeed = 150 * time.Millisecond
)

// SendOptions describes one outbound message. File attributes, when present,
// take precedence over the plain-text branch; Text then acts as the caption.
type SendOptions struct {
	To       string   `json:"to"`
	Text     string   `json:"text,omitempty"`
	QuotedID string   `json:"quotedId,omitempty"`
	Mentions []string `json:"mentions,omitempty"`

	FileURL  string `json:"fileUrl,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

func (o SendOptions) hasFile() bool { return o.FileURL != "" }

// EditOptions describes one edit of a previously sent message.
type EditOptions struct {
	MessageID string   `json:"messageId"`
	Text      string   `json:"text"`
	Mentions  []string `json:"mentions,omitempty"`
}

// Options configures a Pipeline.
type Options struct {
	Session *session.Session
	Store   storage.Store
	Mapper  *mapper.Mapper
	Audit   *audit.Sink
	Logger  *slog.Logger

	// Typing speed bounds in time per character. Both zero disables typing
	// simulation.
	MinTypingSpeed time.Duration
	MaxTypingSpeed time.Duration

	Registry *metric.MetricsRegistry
}

// Pipeline drives outbound sends and edits for one session.
type Pipeline struct {
	session *session.Session
	store   storage.Store
	mapper  *mapper.Mapper
	audit   *audit.Sink
	logger  *slog.Logger
	metrics *Metrics

	minSpeed time.Duration
	maxSpeed time.Duration

	// randFloat is swappable in tests.
	randFloat func() float64
}

// New builds an outbound Pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		session:   opts.Session,
		store:     opts.Store,
		mapper:    opts.Mapper,
		audit:     opts.Audit,
		logger:    logger.With("session", opts.Session.SessionID()),
		metrics:   newMetrics(opts.Registry),
		minSpeed:  opts.MinTypingSpeed,
		maxSpeed:  opts.MaxTypingSpeed,
		randFloat: rand.Float64,
	}
}

// Send dispatches one outbound message and returns its canonical form. On
// any dispatch failure during the first attempt the destination is rewritten
// through the alternate country format and the send retried exactly once.
// Address and content validation failures are never retried.
func (p *Pipeline) Send(ctx context.Context, opts SendOptions, isGroup bool) (*message.Message, error) {
	rec := p.audit.Begin("Send Message", opts)

	msg, err := p.sendAttempt(ctx, opts, isGroup, rec, 0)
	if err != nil {
		p.metrics.recordSend("failure")
		rec.Failed(err)
		return nil, err
	}

	p.metrics.recordSend("success")
	rec.Success(msg.StanzaID)
	return msg, nil
}

func (p *Pipeline) sendAttempt(ctx context.Context, opts SendOptions, isGroup bool, rec *audit.Recorder, attempt int) (*message.Message, error) {
	rec.Log("starting send attempt", map[string]any{"to": opts.To, "attempt": attempt + 1})

	raw, sock, err := p.dispatch(ctx, opts, isGroup, rec)
	if err != nil {
		// Validation failures are deterministic; a different destination
		// format cannot fix them.
		if errors.Is(err, errors.ErrInvalidAddressFormat) || errors.Is(err, errors.ErrEmptyTextMessage) {
			return nil, err
		}
		if attempt > 0 {
			return nil, err
		}

		retry := opts
		retry.To = p.retryDestination(opts.To, isGroup)
		rec.Log("first attempt failed, retrying with alternate country format", retry.To)
		p.metrics.recordRetry()

		return p.sendAttempt(ctx, retry, isGroup, rec, attempt+1)
	}

	// The message is on the wire; a failure from here on must surface without
	// dispatching a second copy.
	msg, err := p.mapper.Map(ctx, sock, raw, p.session.SelfPhone())
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "sendAttempt", "mapping dispatch result")
	}
	return msg, nil
}

// retryDestination rewrites a failed destination through the alternate
// country format. Group identifiers pass through the transform unchanged.
func (p *Pipeline) retryDestination(to string, isGroup bool) string {
	if !isGroup {
		if jid, err := address.AltCountryJID(to); err == nil {
			return jid
		}
	}
	return address.AltCountryFormat(address.StripSuffix(strings.TrimSpace(to)))
}

// dispatch performs the network half of a send attempt: normalize, build,
// humanize, dispatch. The raw echo and the socket that produced it are
// returned for mapping.
func (p *Pipeline) dispatch(ctx context.Context, opts SendOptions, isGroup bool, rec *audit.Recorder) (*wire.Message, wire.Socket, error) {
	jid, err := p.destination(opts.To, isGroup)
	if err != nil {
		return nil, nil, err
	}
	rec.Debug("destination normalized", jid)

	content, err := buildContent(opts)
	if err != nil {
		return nil, nil, err
	}

	sock, err := p.session.Socket()
	if err != nil {
		return nil, nil, errors.Wrap(err, "Pipeline", "dispatch", "acquiring socket")
	}

	p.simulateTyping(ctx, sock, jid, opts)

	raw, err := sock.SendMessage(ctx, jid, content)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrSendFailed, "Pipeline", "dispatch", err.Error())
	}
	if raw == nil {
		return nil, nil, errors.Wrap(errors.ErrSendFailed, "Pipeline", "dispatch", "empty dispatch result for "+jid)
	}
	rec.Log("message dispatched", raw.Key.ID)

	return raw, sock, nil
}

func (p *Pipeline) destination(to string, isGroup bool) (string, error) {
	if isGroup {
		return address.NormalizeGroup(to)
	}
	return address.Normalize(to)
}

// buildContent translates send options into the tagged wire content variant.
// File attributes branch on a MIME-type substring match; anything that is not
// image, video or audio ships as a generic document.
func buildContent(opts SendOptions) (wire.Content, error) {
	if opts.hasFile() {
		media := &wire.MediaRef{
			URL:      opts.FileURL,
			Caption:  opts.Text,
			MimeType: opts.FileType,
			FileName: opts.FileName,
		}

		content := wire.Content{Mentions: opts.Mentions}
		switch {
		case strings.Contains(opts.FileType, "image"):
			content.Image = media
		case strings.Contains(opts.FileType, "video"):
			content.Video = media
		case strings.Contains(opts.FileType, "audio"):
			content.Audio = media
		default:
			if media.MimeType == "" {
				media.MimeType = "application/octet-stream"
			}
			content.Document = media
		}
		return content, nil
	}

	if opts.Text == "" {
		return wire.Content{}, errors.Wrap(errors.ErrEmptyTextMessage, "Pipeline", "buildContent", "validating text payload")
	}

	return wire.Content{Text: opts.Text, HasText: true, Mentions: opts.Mentions}, nil
}

// simulateTyping signals a composing presence, waits a duration proportional
// to the text length, then signals paused. Skipped for file-only messages
// without caption text and when no speed bounds are configured. Presence
// failures are cosmetic and never fail the send.
func (p *Pipeline) simulateTyping(ctx context.Context, sock wire.Socket, jid string, opts SendOptions) {
	if opts.Text == "" || (p.minSpeed <= 0 && p.maxSpeed <= 0) {
		return
	}

	duration := p.typingDuration(len(opts.Text))
	p.metrics.recordTypingDuration(duration)

	if err := sock.SendPresence(ctx, jid, wire.PresenceComposing); err != nil {
		p.logger.Debug("failed to signal composing presence", "error", err)
	}

	sleepCtx(ctx, duration)

	if err := sock.SendPresence(ctx, jid, wire.PresencePaused); err != nil {
		p.logger.Debug("failed to signal paused presence", "error", err)
	}
}

// typingDuration picks a random per-character speed within the configured
// bounds and scales it by the message length.
func (p *Pipeline) typingDuration(messageLength int) time.Duration {
	speed := p.minSpeed + time.Duration(p.randFloat()*float64(p.maxSpeed-p.minSpeed))
	return time.Duration(messageLength) * speed
}

// Edit rewrites a previously sent message. The original raw message must be
// present in storage; its stored remote JID is the dispatch destination, so
// the alternate-address retry policy does not apply.
func (p *Pipeline) Edit(ctx context.Context, opts EditOptions) (*message.Message, error) {
	rec := p.audit.Begin("Edit Message", opts)

	msg, err := p.edit(ctx, opts, rec)
	if err != nil {
		p.metrics.recordEdit("failure")
		rec.Failed(err)
		return nil, err
	}

	p.metrics.recordEdit("success")
	rec.Success(msg.StanzaID)
	return msg, nil
}

func (p *Pipeline) edit(ctx context.Context, opts EditOptions, rec *audit.Recorder) (*message.Message, error) {
	record, err := p.store.GetFullRawMessage(ctx, p.session.SessionID(), opts.MessageID)
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "edit", "looking up message "+opts.MessageID)
	}
	rec.Log("original message found", record.RemoteJID)

	mentions := make([]string, 0, len(opts.Mentions))
	for _, phone := range opts.Mentions {
		jid, err := address.Normalize(phone)
		if err != nil {
			p.logger.Warn("skipping unnormalizable mention", "phone", phone)
			continue
		}
		mentions = append(mentions, jid)
	}
	rec.Debug("mentions normalized", mentions)

	sock, err := p.session.Socket()
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "edit", "acquiring socket")
	}

	raw, err := sock.SendMessage(ctx, record.RemoteJID, wire.Content{
		Text:     opts.Text,
		HasText:  true,
		Mentions: mentions,
		Edit:     &wire.EditRef{ID: opts.MessageID},
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrEditFailed, "Pipeline", "edit", err.Error())
	}
	if raw == nil {
		return nil, errors.Wrap(errors.ErrEditFailed, "Pipeline", "edit", "empty dispatch result for "+opts.MessageID)
	}
	rec.Log("edit dispatched", raw.Key.ID)

	msg, err := p.mapper.Map(ctx, sock, raw, p.session.SelfPhone())
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "edit", "mapping edit result")
	}
	return msg, nil
}

// sleepCtx waits for the duration or until ctx is done, whichever first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
