// Package mapper converts raw protocol messages into canonical messages.
// Classification walks a closed, ordered list of content predicates so a
// payload carrying several fields always resolves to the same type, and
// finalization substitutes the session's self marker, assigns the initial
// delivery status and attaches uploaded media references.
package mapper

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rgranatodutra/wwebjs-api/address"
	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/files"
	"github.com/rgranatodutra/wwebjs-api/message"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

// SelfMarker prefixes the session's own side of a canonical message, e.g.
// "me:5511987654321". Downstream consumers rely on this exact form.
const SelfMarker = "me:"

// Fields is the protocol-independent content extracted from one raw message.
type Fields struct {
	Type        message.ContentType
	Body        string
	ContactName string
	// Timestamp is the raw seconds value right-padded to 13 digits. The
	// padding predates this service and downstream consumers expect the
	// padded value verbatim; it is interpreted as a millisecond epoch.
	Timestamp   string
	QuotedID    string
	IsForwarded bool
	RemotePhone string

	IsFile   bool
	FileName string
	FileType string
	FileSize string
}

// Classify extracts canonical content fields from a raw message. Precedence
// when several payload kinds are present: extended text, plain conversation
// text, audio, image, video, document, sticker, unsupported. The quoted
// message id and forwarded flag are read from extended-text context metadata
// only.
func Classify(raw *wire.Message) Fields {
	f := Fields{
		ContactName: contactName(raw),
		Timestamp:   padTimestamp(raw.Timestamp),
		QuotedID:    quotedID(raw),
		IsForwarded: isForwarded(raw),
		RemotePhone: remotePhone(raw.Key),
	}

	msg := raw.Message
	if msg == nil {
		f.Type = message.ContentUnsupported
		return f
	}

	switch {
	case msg.GetExtendedTextMessage().GetText() != "":
		f.Type = message.ContentChat
		f.Body = msg.GetExtendedTextMessage().GetText()

	case msg.GetConversation() != "":
		f.Type = message.ContentChat
		f.Body = msg.GetConversation()

	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		f.Type = message.ContentAudio
		f.IsFile = true
		f.FileName = "audio.ogg"
		f.FileType = fallback(audio.GetMimetype(), "audio/ogg; codecs=opus")
		f.FileSize = fileSize(audio.GetFileLength())

	case msg.GetImageMessage() != nil:
		image := msg.GetImageMessage()
		f.Type = message.ContentImage
		f.Body = image.GetCaption()
		f.IsFile = true
		f.FileName = "image.jpg"
		f.FileType = fallback(image.GetMimetype(), "image/jpeg")
		f.FileSize = fileSize(image.GetFileLength())

	case msg.GetVideoMessage() != nil:
		video := msg.GetVideoMessage()
		f.Type = message.ContentVideo
		f.Body = video.GetCaption()
		f.IsFile = true
		f.FileName = "video.mp4"
		f.FileType = fallback(video.GetMimetype(), "video/mp4")
		f.FileSize = fileSize(video.GetFileLength())

	case msg.GetDocumentMessage() != nil:
		document := msg.GetDocumentMessage()
		f.Type = message.ContentDocument
		f.Body = document.GetCaption()
		f.IsFile = true
		f.FileName = fallback(document.GetFileName(), "document")
		f.FileType = fallback(document.GetMimetype(), "application/octet-stream")
		f.FileSize = fileSize(document.GetFileLength())

	case msg.GetStickerMessage() != nil:
		sticker := msg.GetStickerMessage()
		f.Type = message.ContentSticker
		f.IsFile = true
		f.FileName = "sticker.webp"
		f.FileType = fallback(sticker.GetMimetype(), "image/webp")
		f.FileSize = fileSize(sticker.GetFileLength())

	default:
		f.Type = message.ContentUnsupported
	}

	return f
}

// Mapper finalizes classified fields into canonical messages, uploading
// media for file-bearing content through the file store.
type Mapper struct {
	uploader files.Uploader
	instance string
	clientID int
	logger   *slog.Logger
}

// New builds a Mapper for one session identity.
func New(uploader files.Uploader, instance string, clientID int, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{uploader: uploader, instance: instance, clientID: clientID, logger: logger}
}

// Map converts one raw message into a canonical message. The socket is
// borrowed for media retrieval only and not retained. selfPhone may be empty
// while the session is unauthenticated; the self marker then degrades to
// "me:". A media retrieval or upload failure aborts only this message,
// wrapped as ErrMediaProcessingFailed.
func (m *Mapper) Map(ctx context.Context, sock wire.Socket, raw *wire.Message, selfPhone string) (*message.Message, error) {
	f := Classify(raw)

	status := message.StatusReceived
	from := f.RemotePhone
	to := SelfMarker + selfPhone
	if raw.Key.FromMe {
		status = message.StatusPending
		from = SelfMarker + selfPhone
		to = f.RemotePhone
	}

	msg := &message.Message{
		Instance:    m.instance,
		ClientID:    m.clientID,
		StanzaID:    raw.Key.ID,
		From:        from,
		To:          to,
		Type:        f.Type,
		Body:        f.Body,
		Status:      status,
		Timestamp:   f.Timestamp,
		SentAt:      sentAt(f.Timestamp),
		IsForwarded: f.IsForwarded,
		QuotedID:    f.QuotedID,
		ContactName: f.ContactName,
	}

	if !f.IsFile {
		return msg, nil
	}

	msg.FileName = f.FileName
	msg.FileType = f.FileType
	msg.FileSize = f.FileSize

	uploaded, err := m.processMedia(ctx, sock, raw, f)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMediaProcessingFailed, "Mapper", "Map",
			"processing media for message "+raw.Key.ID+": "+err.Error())
	}
	msg.FileID = uploaded.ID

	return msg, nil
}

func (m *Mapper) processMedia(ctx context.Context, sock wire.Socket, raw *wire.Message, f Fields) (*files.UploadedFile, error) {
	m.logger.Debug("downloading media message", "message_id", raw.Key.ID, "file_name", f.FileName)

	buffer, err := sock.DownloadMedia(ctx, raw)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("media downloaded, uploading to storage", "message_id", raw.Key.ID, "size", len(buffer))

	return m.uploader.Upload(ctx, files.UploadRequest{
		Buffer:     buffer,
		FileName:   f.FileName,
		MimeType:   f.FileType,
		Visibility: files.VisibilityPublic,
		Instance:   m.instance,
	})
}

func contactName(raw *wire.Message) string {
	if raw.VerifiedBizName != "" {
		return raw.VerifiedBizName
	}
	if raw.PushName != "" {
		return raw.PushName
	}
	return address.StripSuffix(raw.Key.RemoteJID)
}

// remotePhone resolves the counterparty's phone. Group messages resolve the
// participant, preferring the alias address under alias addressing mode;
// direct messages resolve the remote JID the same way.
func remotePhone(key wire.MessageKey) string {
	isLid := key.AddressingMode == wire.AddressingLID

	if address.IsGroup(key.RemoteJID) {
		participant := key.Participant
		participantAlt := key.ParticipantAlt
		if participantAlt == "" {
			participantAlt = participant
		}
		phone := address.StripSuffix(participant)
		if isLid {
			phone = address.StripSuffix(participantAlt)
		}
		if phone == "" {
			return key.Participant
		}
		return phone
	}

	jid := key.RemoteJID
	jidAlt := key.RemoteJIDAlt
	if jidAlt == "" {
		jidAlt = jid
	}
	phone := address.StripSuffix(jid)
	if isLid {
		phone = address.StripSuffix(jidAlt)
	}
	if phone == "" {
		return key.RemoteJID
	}
	return phone
}

func quotedID(raw *wire.Message) string {
	return raw.Message.GetExtendedTextMessage().GetContextInfo().GetStanzaID()
}

func isForwarded(raw *wire.Message) bool {
	return raw.Message.GetExtendedTextMessage().GetContextInfo().GetIsForwarded()
}

// padTimestamp right-pads the seconds value to 13 digits with zeros. The
// padded value is read as a millisecond epoch even though the source is
// seconds; do not change this without confirming downstream consumers.
func padTimestamp(seconds int64) string {
	s := strconv.FormatInt(seconds, 10)
	if len(s) < 13 {
		s += strings.Repeat("0", 13-len(s))
	}
	return s
}

func sentAt(padded string) time.Time {
	millis, err := strconv.ParseInt(padded, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

func fileSize(length uint64) string {
	return strconv.FormatUint(length, 10)
}

func fallback(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
