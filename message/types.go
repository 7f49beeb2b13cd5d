// Package message defines the canonical message model: the normalized,
// storage and event ready representation of one inbound or outbound message,
// its delivery-status enum, and the ack-code translation table.
package message

import "time"

// Status is the canonical delivery status of a message.
type Status string

// Canonical delivery statuses.
const (
	StatusPending    Status = "PENDING"
	StatusSent       Status = "SENT"
	StatusReceived   Status = "RECEIVED"
	StatusRead       Status = "READ"
	StatusDownloaded Status = "DOWNLOADED"
	StatusError      Status = "ERROR"
	StatusRevoked    Status = "REVOKED"
)

// ContentType classifies the payload of a canonical message.
type ContentType string

// Canonical content types. File-bearing types always carry a file reference
// after successful media upload; text-bearing types never do.
const (
	ContentChat        ContentType = "chat"
	ContentImage       ContentType = "image"
	ContentVideo       ContentType = "video"
	ContentAudio       ContentType = "audio"
	ContentDocument    ContentType = "document"
	ContentSticker     ContentType = "sticker"
	ContentUnsupported ContentType = "unsupported"
)

// IsFile reports whether the content type carries a media payload.
func (ct ContentType) IsFile() bool {
	switch ct {
	case ContentImage, ContentVideo, ContentAudio, ContentDocument, ContentSticker:
		return true
	}
	return false
}

// Message is the canonical representation of one message. It is constructed
// once by the content mapper and immutable afterwards; persistence and
// fan-out happen through external collaborators.
type Message struct {
	Instance    string      `json:"instance"`
	ClientID    int         `json:"clientId"`
	StanzaID    string      `json:"wwebjsIdStanza,omitempty"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Type        ContentType `json:"type"`
	Body        string      `json:"body"`
	Status      Status      `json:"status"`
	Timestamp   string      `json:"timestamp"`
	SentAt      time.Time   `json:"sentAt"`
	IsForwarded bool        `json:"isForwarded"`
	QuotedID    string      `json:"quotedId,omitempty"`
	ContactName string      `json:"contactName,omitempty"`
	FileID      string      `json:"fileId,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	FileType    string      `json:"fileType,omitempty"`
	FileSize    string      `json:"fileSize,omitempty"`
}
