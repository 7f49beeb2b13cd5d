// Package storage defines the persistence contract consumed by the session
// core. Implementations back four concerns: session credentials, the raw
// message store used for protocol retries and edits, a best-effort group
// metadata cache, and the audit log of core operations.
//
// Raw-message and group-metadata reads are best-effort caches from the
// protocol library's point of view: read failures degrade to "not found"
// instead of propagating.
package storage

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/rgranatodutra/wwebjs-api/wire"
)

// RawMessageRecord is one persisted raw protocol message.
type RawMessageRecord struct {
	ID        int64
	SessionID string
	RemoteJID string
	MessageID string
	FromMe    bool
	Message   *waE2E.Message
	Key       wire.MessageKey
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditRecord is one structured start/success/failure record of a core
// operation.
type AuditRecord struct {
	Instance    string
	ProcessName string
	ProcessID   string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Entries     []AuditEntry
	Input       any
	Output      []any
	HasError    bool
	Error       string
}

// AuditEntry is one timed log line inside an audit record.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// AuthStore persists session credential state.
type AuthStore interface {
	// SaveAuthState records that the session's credentials changed. The
	// write is idempotent; concurrent saves converge.
	SaveAuthState(ctx context.Context, sessionID string) error

	// ClearAuthState discards all credential and key state for the session,
	// forcing re-authentication on the next socket cycle.
	ClearAuthState(ctx context.Context, sessionID string) error
}

// RawMessageStore persists raw protocol messages keyed by stanza id.
type RawMessageStore interface {
	// SaveRawMessage upserts one raw payload keyed by (session, stanza id).
	SaveRawMessage(ctx context.Context, sessionID string, msg *waE2E.Message, key wire.MessageKey) error

	// GetRawMessage returns the raw payload for a key, or nil when unknown.
	// Read failures degrade to nil.
	GetRawMessage(ctx context.Context, sessionID string, key wire.MessageKey) *waE2E.Message

	// GetFullRawMessage returns the full stored record for a stanza id, or
	// errors.ErrMessageNotFound.
	GetFullRawMessage(ctx context.Context, sessionID, messageID string) (*RawMessageRecord, error)
}

// GroupMetadataStore caches group metadata blobs. Best effort on both sides.
type GroupMetadataStore interface {
	SaveGroupMetadata(ctx context.Context, sessionID, jid string, metadata []byte) error

	// GetGroupMetadata returns the cached blob for a group JID, or nil when
	// unknown. Read failures degrade to nil.
	GetGroupMetadata(ctx context.Context, sessionID, jid string) []byte
}

// AuditStore persists audit records. Fire-and-forget from the core's
// perspective.
type AuditStore interface {
	SaveAuditRecord(ctx context.Context, record *AuditRecord) error
}

// Store is the full persistence surface consumed by the session core.
type Store interface {
	AuthStore
	RawMessageStore
	GroupMetadataStore
	AuditStore
}
