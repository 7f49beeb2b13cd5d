// Package session owns the active protocol socket and the connection
// lifecycle state machine. The Session is the only component permitted to
// replace the socket; pipelines borrow the current handle per operation
// through Socket() and must not cache it, because a lifecycle update may
// swap it mid-flight.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rgranatodutra/wwebjs-api/address"
	"github.com/rgranatodutra/wwebjs-api/audit"
	"github.com/rgranatodutra/wwebjs-api/emitter"
	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/message"
	"github.com/rgranatodutra/wwebjs-api/metric"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

// Default history backfill bounds requested on connection open.
const (
	DefaultHistoryCount    = 10
	DefaultHistoryLookback = 7 * 24 * time.Hour
)

// InboundHandlers receives raw message batches from the bound socket. The
// inbound pipeline implements it; the three entry points are independent of
// each other.
type InboundHandlers interface {
	HandleUpsert(ctx context.Context, batch []*wire.Message)
	HandleUpdates(ctx context.Context, batch []wire.MessageUpdate)
	HandleHistorySet(ctx context.Context, batch []*wire.Message)
}

// Options configures a Session.
type Options struct {
	SessionID string
	ClientID  int
	Instance  string

	Factory wire.Factory
	Store   storage.Store
	Emitter emitter.Emitter
	Audit   *audit.Sink
	Logger  *slog.Logger

	// Registry publishes lifecycle metrics; nil disables them.
	Registry *metric.MetricsRegistry

	HistoryCount    int
	HistoryLookback time.Duration
}

// Session is one authenticated network identity and its lifecycle manager.
type Session struct {
	sessionID string
	clientID  int
	instance  string

	factory wire.Factory
	store   storage.Store
	emitter emitter.Emitter
	audit   *audit.Sink
	logger  *slog.Logger
	metrics *metric.Metrics

	historyCount    int
	historyLookback time.Duration

	inbound InboundHandlers

	// runCtx is the lifetime context captured at Build; socket handlers
	// deliver no per-event context, so lifecycle work derives from it.
	runCtx context.Context

	mu        sync.RWMutex
	sock      wire.Socket
	selfPhone string
	started   bool
}

// New builds a Session. Call SetInbound before Build to receive message
// batches.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	historyCount := opts.HistoryCount
	if historyCount <= 0 {
		historyCount = DefaultHistoryCount
	}
	historyLookback := opts.HistoryLookback
	if historyLookback <= 0 {
		historyLookback = DefaultHistoryLookback
	}
	var metrics *metric.Metrics
	if opts.Registry != nil {
		metrics = opts.Registry.CoreMetrics()
	}

	return &Session{
		sessionID:       opts.SessionID,
		clientID:        opts.ClientID,
		instance:        opts.Instance,
		factory:         opts.Factory,
		store:           opts.Store,
		emitter:         opts.Emitter,
		audit:           opts.Audit,
		logger:          logger.With("session", opts.SessionID),
		metrics:         metrics,
		historyCount:    historyCount,
		historyLookback: historyLookback,
	}
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// ClientID returns the owning tenant identifier.
func (s *Session) ClientID() int { return s.clientID }

// Instance returns the human-readable instance label.
func (s *Session) Instance() string { return s.instance }

// SelfPhone returns the session's own phone number, empty until
// authentication succeeds.
func (s *Session) SelfPhone() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selfPhone
}

// Socket returns the current socket handle. Callers borrow it for one
// operation; re-fetch per call rather than caching across operations.
func (s *Session) Socket() (wire.Socket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sock == nil {
		return nil, errors.ErrNoSocket
	}
	return s.sock, nil
}

// SetInbound registers the inbound pipeline. Must be called before Build.
func (s *Session) SetInbound(h InboundHandlers) {
	s.inbound = h
}

// Build creates the initial socket from stored credentials and binds all
// event subscriptions. ctx bounds the session's lifetime.
func (s *Session) Build(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	s.started = true
	s.runCtx = ctx
	s.mu.Unlock()

	sock, err := s.factory(ctx, s.sessionID)
	if err != nil {
		return errors.Wrap(err, "Session", "Build", "creating socket")
	}

	s.swapSocket(sock)
	s.logger.Info("session built, socket bound")
	return nil
}

// Close tears down the current socket.
func (s *Session) Close() error {
	s.mu.Lock()
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()

	if sock == nil {
		return nil
	}
	s.metrics.RecordSessionStatus(s.sessionID, metric.StatusClosed)
	return sock.Close()
}

// swapSocket atomically replaces the current socket and rebinds all event
// subscriptions on the new one. The replaced socket is unbound first, so a
// late event from it can no longer re-enter the lifecycle state machine, and
// then closed off the caller's path; in-flight operations complete or fail
// against the old handle.
func (s *Session) swapSocket(sock wire.Socket) {
	s.mu.Lock()
	old := s.sock
	s.sock = sock
	s.mu.Unlock()

	if old != nil {
		old.BindHandlers(wire.Handlers{})
		go func() {
			if err := old.Close(); err != nil {
				s.logger.Warn("failed to close replaced socket", "error", err)
			}
		}()
	}

	sock.BindHandlers(wire.Handlers{
		ConnectionUpdate: s.onConnectionUpdate,
		CredsUpdate:      s.onCredsUpdate,
		MessagesUpsert:   s.onMessagesUpsert,
		MessagesUpdate:   s.onMessagesUpdate,
		HistorySet:       s.onHistorySet,
	})
}

func (s *Session) onConnectionUpdate(update wire.ConnectionUpdate) {
	rec := s.audit.Begin("Connection Update", update)
	if err := s.handleConnectionUpdate(s.runCtx, update, rec); err != nil {
		rec.Failed(err)
		return
	}
	rec.Success(nil)
}

// handleConnectionUpdate drives the lifecycle state machine. A lifecycle
// update may report any combination of QR challenge, connection phase and
// disconnect reason; each facet is handled independently.
func (s *Session) handleConnectionUpdate(ctx context.Context, update wire.ConnectionUpdate, rec *audit.Recorder) error {
	rec.Log("connection update received", update)

	if update.QR != "" {
		s.emitter.Emit(ctx, message.NewQRReceived(s.clientID, update.QR))
		s.metrics.RecordQRIssued(s.sessionID)
		s.metrics.RecordSessionStatus(s.sessionID, metric.StatusConnecting)
		rec.Log("qr code generated for connection", nil)
	}

	switch update.Phase {
	case wire.PhaseOpen:
		s.metrics.RecordSessionStatus(s.sessionID, metric.StatusOpen)
		s.handleOpen(ctx, rec)

	case wire.PhaseClose:
		s.metrics.RecordSessionStatus(s.sessionID, metric.StatusClosed)

		if update.RestartRequired() {
			rec.Log("socket restart required, reinitializing", nil)
			if err := s.reinitSocket(ctx, "restart_required"); err != nil {
				return err
			}
			rec.Log("socket reinitialized", nil)
			return nil
		}

		if err := s.store.ClearAuthState(ctx, s.sessionID); err != nil {
			s.logger.Error("failed to clear auth state", "error", err)
		}
		rec.Log("logged out, cleared auth state", nil)
		if err := s.reinitSocket(ctx, "logged_out"); err != nil {
			return err
		}
		rec.Log("socket reinitialized after logout", nil)
	}

	return nil
}

func (s *Session) handleOpen(ctx context.Context, rec *audit.Recorder) {
	sock, err := s.Socket()
	if err != nil {
		s.logger.Error("connection open without socket", "error", err)
		return
	}

	phone := selfPhoneFromJID(sock.SelfJID())
	s.mu.Lock()
	s.selfPhone = phone
	s.mu.Unlock()

	oldest := time.Now().Add(-s.historyLookback)
	if err := sock.FetchMessageHistory(ctx, s.historyCount, oldest); err != nil {
		s.logger.Warn("history backfill request failed", "error", err)
	}

	rec.Log("connection opened", phone)
	s.emitter.Emit(ctx, message.NewAuthSuccess(s.clientID, phone))
}

// reinitSocket builds a replacement socket from whatever credential state
// storage currently holds and swaps it in. Failure is fatal to the
// session's connectivity.
func (s *Session) reinitSocket(ctx context.Context, reason string) error {
	sock, err := s.factory(ctx, s.sessionID)
	if err != nil {
		return errors.Wrap(errors.ErrSocketReinitFailed, "Session", "reinitSocket", err.Error())
	}

	s.metrics.RecordSocketReinit(s.sessionID, reason)
	s.swapSocket(sock)
	return nil
}

func (s *Session) onCredsUpdate() {
	if err := s.store.SaveAuthState(s.runCtx, s.sessionID); err != nil {
		s.logger.Error("failed to save auth state", "error", err)
	}
}

func (s *Session) onMessagesUpsert(batch []*wire.Message) {
	if s.inbound == nil {
		return
	}
	s.inbound.HandleUpsert(s.runCtx, batch)
}

func (s *Session) onMessagesUpdate(batch []wire.MessageUpdate) {
	if s.inbound == nil {
		return
	}
	s.inbound.HandleUpdates(s.runCtx, batch)
}

func (s *Session) onHistorySet(batch []*wire.Message) {
	if s.inbound == nil {
		return
	}
	s.inbound.HandleHistorySet(s.runCtx, batch)
}

// selfPhoneFromJID extracts the bare phone number from the socket's
// identity JID, dropping the device suffix.
func selfPhoneFromJID(jid string) string {
	phone := address.StripSuffix(jid)
	if idx := strings.IndexByte(phone, ':'); idx >= 0 {
		phone = phone[:idx]
	}
	return phone
}
