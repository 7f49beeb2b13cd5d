// Package wire defines the contract between the session core and the
// underlying WhatsApp protocol library: the raw message and lifecycle-update
// shapes the library delivers, the outbound content variants the core
// dispatches, and the Socket interface the lifecycle manager owns.
//
// Raw message payloads are carried as whatsmeow waE2E protos; everything
// else is protocol-library agnostic so the core can be exercised against
// fakes in tests.
package wire

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// AddressingMode describes how the sender of a message is identified.
type AddressingMode string

// Addressing modes reported by the protocol library.
const (
	// AddressingPN identifies participants by phone number.
	AddressingPN AddressingMode = "pn"
	// AddressingLID identifies participants by alias (hidden user id).
	AddressingLID AddressingMode = "lid"
)

// MessageKey identifies one raw protocol message and how it was addressed.
type MessageKey struct {
	ID             string
	RemoteJID      string
	RemoteJIDAlt   string
	Participant    string
	ParticipantAlt string
	AddressingMode AddressingMode
	FromMe         bool
}

// Message is one raw protocol message as delivered by the library.
type Message struct {
	Key             MessageKey
	Message         *waE2E.Message
	PushName        string
	VerifiedBizName string
	// Timestamp is the raw protocol timestamp in seconds.
	Timestamp int64
}

// MessageUpdate is one raw per-message update. Status is an ack code when
// HasStatus is set; updates without a status are ignored by the core.
type MessageUpdate struct {
	Key       MessageKey
	Status    int
	HasStatus bool
}

// Phase is the connection phase reported by a lifecycle update.
type Phase string

// Connection phases.
const (
	PhaseConnecting Phase = "connecting"
	PhaseOpen       Phase = "open"
	PhaseClose      Phase = "close"
)

// Disconnect status codes, matching the protocol library's taxonomy. Restart
// required means the socket must be rebuilt with the same credentials; every
// other close reason is treated as a logout.
const (
	CodeLoggedOut       = 401
	CodeRestartRequired = 515
)

// ConnectionUpdate is one raw lifecycle update. Any combination of fields
// may be present; absent fields are zero values and Phase may be empty.
type ConnectionUpdate struct {
	QR             string
	Phase          Phase
	DisconnectCode int
}

// RestartRequired reports whether the update closes the connection with the
// restart-required code.
func (u ConnectionUpdate) RestartRequired() bool {
	return u.Phase == PhaseClose && u.DisconnectCode == CodeRestartRequired
}

// Presence is a chat presence signal.
type Presence string

// Chat presence states used by typing simulation.
const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// MediaRef points at media content by URL. The dispatch layer fetches and
// uploads it to the network.
type MediaRef struct {
	URL      string
	Caption  string
	MimeType string
	FileName string
}

// EditRef targets a previously sent message for edit.
type EditRef struct {
	ID string
}

// Content is the tagged outbound content variant: exactly one of the payload
// fields is set. A closed, explicit set avoids dispatch picking the wrong
// payload kind when options are ambiguous.
type Content struct {
	Text     string
	HasText  bool
	Image    *MediaRef
	Video    *MediaRef
	Audio    *MediaRef
	Document *MediaRef

	Mentions []string
	Edit     *EditRef
}

// Handlers receives raw protocol notifications. Unset handlers are skipped.
// Same-category notifications for one session arrive in order; categories
// are independent of each other.
type Handlers struct {
	ConnectionUpdate func(ConnectionUpdate)
	CredsUpdate      func()
	MessagesUpsert   func([]*Message)
	MessagesUpdate   func([]MessageUpdate)
	HistorySet       func([]*Message)
}

// Socket is the underlying protocol socket surface consumed by the core.
// The session lifecycle manager is the only component permitted to replace
// a Socket; pipelines borrow the current one per call and must not retain
// it across operations.
type Socket interface {
	// SendMessage dispatches content to the JID and returns the raw echo of
	// the sent message. A nil result with nil error never occurs.
	SendMessage(ctx context.Context, jid string, content Content) (*Message, error)

	// SendPresence signals a chat presence state to the JID.
	SendPresence(ctx context.Context, jid string, presence Presence) error

	// ProfilePictureURL resolves the avatar URL for a JID, empty when unset.
	ProfilePictureURL(ctx context.Context, jid string) (string, error)

	// FetchMessageHistory requests an on-demand history backfill of up to
	// count messages not older than the given time.
	FetchMessageHistory(ctx context.Context, count int, oldest time.Time) error

	// DownloadMedia retrieves the media bytes of a file-bearing raw message.
	DownloadMedia(ctx context.Context, msg *Message) ([]byte, error)

	// SelfJID returns the authenticated identity JID, empty before pairing.
	SelfJID() string

	// BindHandlers subscribes the given handlers to this socket's
	// notifications, replacing any previous subscription.
	BindHandlers(h Handlers)

	// Close tears the socket down. The socket delivers no notifications
	// after Close returns.
	Close() error
}

// Factory produces a fresh Socket for a session from its stored credentials.
// The lifecycle manager calls it at build time and on every reinitialization.
type Factory func(ctx context.Context, sessionID string) (Socket, error)
