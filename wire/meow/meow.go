// Package meow implements the wire.Socket contract on top of whatsmeow. It
// owns the translation between whatsmeow's event types and the raw shapes
// the session core consumes, plus outbound content construction including
// media upload.
package meow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/walog"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

// Socket adapts a whatsmeow client to the wire.Socket contract.
type Socket struct {
	client     *whatsmeow.Client
	logger     *slog.Logger
	httpClient *http.Client

	mu       sync.RWMutex
	handlers wire.Handlers
}

var _ wire.Socket = (*Socket)(nil)

// RawMessageSource resolves previously persisted raw messages. The raw
// message store implements it; the socket uses it to answer peer retry
// receipts for messages sent before the current process started.
type RawMessageSource interface {
	GetRawMessage(ctx context.Context, sessionID string, key wire.MessageKey) *waE2E.Message
}

// NewFactory returns a wire.Factory that builds sockets from the credential
// container. Each call produces a fresh whatsmeow client; when no device is
// stored yet the socket starts a QR pairing flow and reports codes through
// the bound connection-update handler. rawSource may be nil; retry receipts
// then fall back to whatsmeow's in-memory recent-message cache.
func NewFactory(container *sqlstore.Container, rawSource RawMessageSource, logger *slog.Logger) wire.Factory {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, sessionID string) (wire.Socket, error) {
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, errors.WrapTransient(err, "meow", "NewFactory", "loading device for "+sessionID)
		}

		client := whatsmeow.NewClient(device, walog.Wrap(logger.With("component", "whatsmeow")))
		// The session lifecycle manager owns reconnection; whatsmeow must not
		// race it with its own reconnect loop.
		client.EnableAutoReconnect = false

		if rawSource != nil {
			client.GetMessageForRetry = retryMessageLookup(rawSource, sessionID)
		}

		s := &Socket{
			client:     client,
			logger:     logger.With("session", sessionID),
			httpClient: &http.Client{Timeout: 2 * time.Minute},
		}
		client.AddEventHandler(s.translateEvent)

		if client.Store.ID == nil {
			qrChan, err := client.GetQRChannel(ctx)
			if err != nil {
				return nil, errors.WrapTransient(err, "meow", "NewFactory", "opening QR channel")
			}
			go s.watchQR(qrChan)
		}

		if err := client.Connect(); err != nil {
			return nil, errors.WrapTransient(err, "meow", "NewFactory", "connecting socket")
		}

		return s, nil
	}
}

// retryMessageLookup answers a peer's retry receipt from the persisted raw
// message store. A nil result defers to whatsmeow's recent-message cache.
func retryMessageLookup(rawSource RawMessageSource, sessionID string) func(requester, to types.JID, id types.MessageID) *waE2E.Message {
	return func(requester, to types.JID, id types.MessageID) *waE2E.Message {
		return rawSource.GetRawMessage(context.Background(), sessionID, wire.MessageKey{
			ID:        string(id),
			RemoteJID: to.String(),
		})
	}
}

// BindHandlers implements wire.Socket.
func (s *Socket) BindHandlers(h wire.Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = h
}

func (s *Socket) boundHandlers() wire.Handlers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers
}

// Close implements wire.Socket.
func (s *Socket) Close() error {
	s.client.RemoveEventHandlers()
	s.client.Disconnect()
	return nil
}

// SelfJID implements wire.Socket.
func (s *Socket) SelfJID() string {
	id := s.client.Store.ID
	if id == nil {
		return ""
	}
	return id.String()
}

func (s *Socket) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if h := s.boundHandlers().ConnectionUpdate; h != nil {
				h(wire.ConnectionUpdate{QR: evt.Code, Phase: wire.PhaseConnecting})
			}
		case "success":
			s.logger.Info("qr pairing completed")
		default:
			s.logger.Warn("qr channel closed", "event", evt.Event)
		}
	}
}

// translateEvent maps whatsmeow notifications onto the wire.Handlers
// surface.
func (s *Socket) translateEvent(evt interface{}) {
	h := s.boundHandlers()

	switch v := evt.(type) {
	case *events.Connected:
		if h.ConnectionUpdate != nil {
			h.ConnectionUpdate(wire.ConnectionUpdate{Phase: wire.PhaseOpen})
		}

	case *events.PairSuccess:
		if h.CredsUpdate != nil {
			h.CredsUpdate()
		}

	case *events.LoggedOut:
		if h.ConnectionUpdate != nil {
			h.ConnectionUpdate(wire.ConnectionUpdate{
				Phase:          wire.PhaseClose,
				DisconnectCode: int(v.Reason),
			})
		}

	case *events.StreamError:
		code, _ := strconv.Atoi(v.Code)
		if h.ConnectionUpdate != nil {
			h.ConnectionUpdate(wire.ConnectionUpdate{
				Phase:          wire.PhaseClose,
				DisconnectCode: code,
			})
		}

	case *events.Disconnected:
		if h.ConnectionUpdate != nil {
			h.ConnectionUpdate(wire.ConnectionUpdate{Phase: wire.PhaseClose})
		}

	case *events.Message:
		if h.MessagesUpsert != nil {
			h.MessagesUpsert([]*wire.Message{rawFromEvent(v)})
		}

	case *events.Receipt:
		if batch := updatesFromReceipt(v); len(batch) > 0 && h.MessagesUpdate != nil {
			h.MessagesUpdate(batch)
		}

	case *events.HistorySync:
		if batch := s.rawFromHistorySync(v); len(batch) > 0 && h.HistorySet != nil {
			h.HistorySet(batch)
		}
	}
}

// rawFromEvent converts one whatsmeow message event into the raw wire shape.
func rawFromEvent(v *events.Message) *wire.Message {
	info := v.Info

	key := wire.MessageKey{
		ID:             info.ID,
		RemoteJID:      info.Chat.String(),
		FromMe:         info.IsFromMe,
		AddressingMode: wire.AddressingMode(info.AddressingMode),
	}

	switch {
	case info.IsGroup:
		key.Participant = info.Sender.String()
		if !info.SenderAlt.IsEmpty() {
			key.ParticipantAlt = info.SenderAlt.String()
		}
	case info.IsFromMe:
		if !info.RecipientAlt.IsEmpty() {
			key.RemoteJIDAlt = info.RecipientAlt.String()
		}
	default:
		if !info.SenderAlt.IsEmpty() {
			key.RemoteJIDAlt = info.SenderAlt.String()
		}
	}

	raw := &wire.Message{
		Key:       key,
		Message:   v.Message,
		PushName:  info.PushName,
		Timestamp: info.Timestamp.Unix(),
	}
	if info.VerifiedName != nil {
		raw.VerifiedBizName = info.VerifiedName.Details.GetVerifiedName()
	}
	return raw
}

// Receipt-type to ack-code translation.
func ackCode(t types.ReceiptType) (int, bool) {
	switch t {
	case types.ReceiptTypeDelivered:
		return 3, true
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return 4, true
	case types.ReceiptTypePlayed:
		return 5, true
	}
	return 0, false
}

func updatesFromReceipt(v *events.Receipt) []wire.MessageUpdate {
	code, ok := ackCode(v.Type)
	if !ok {
		return nil
	}

	batch := make([]wire.MessageUpdate, 0, len(v.MessageIDs))
	for _, id := range v.MessageIDs {
		batch = append(batch, wire.MessageUpdate{
			Key: wire.MessageKey{
				ID:        id,
				RemoteJID: v.Chat.String(),
				FromMe:    v.IsFromMe,
			},
			Status:    code,
			HasStatus: true,
		})
	}
	return batch
}

func (s *Socket) rawFromHistorySync(v *events.HistorySync) []*wire.Message {
	if v.Data == nil {
		return nil
	}

	var batch []*wire.Message
	for _, conv := range v.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			s.logger.Warn("skipping history conversation with invalid jid", "jid", conv.GetID())
			continue
		}

		for _, historyMsg := range conv.GetMessages() {
			webMsg := historyMsg.GetMessage()
			if webMsg == nil {
				continue
			}

			parsed, err := s.client.ParseWebMessage(chatJID, webMsg)
			if err != nil {
				continue
			}
			if parsed.Message == nil {
				continue
			}
			batch = append(batch, rawFromEvent(parsed))
		}
	}
	return batch
}

// SendMessage implements wire.Socket. Media content is fetched from its URL,
// uploaded to the network and referenced in the outgoing payload.
func (s *Socket) SendMessage(ctx context.Context, jid string, content wire.Content) (*wire.Message, error) {
	target, err := types.ParseJID(jid)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Socket", "SendMessage", "parsing jid "+jid)
	}

	msg, err := s.buildMessage(ctx, content)
	if err != nil {
		return nil, err
	}

	if content.Edit != nil {
		msg = s.client.BuildEdit(target, content.Edit.ID, msg)
	}

	resp, err := s.client.SendMessage(ctx, target, msg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Socket", "SendMessage", "dispatching to "+jid)
	}

	return &wire.Message{
		Key: wire.MessageKey{
			ID:        resp.ID,
			RemoteJID: target.String(),
			FromMe:    true,
		},
		Message:   msg,
		Timestamp: resp.Timestamp.Unix(),
	}, nil
}

func (s *Socket) buildMessage(ctx context.Context, content wire.Content) (*waE2E.Message, error) {
	switch {
	case content.Image != nil:
		return s.buildMedia(ctx, content.Image, whatsmeow.MediaImage, content.Mentions)
	case content.Video != nil:
		return s.buildMedia(ctx, content.Video, whatsmeow.MediaVideo, content.Mentions)
	case content.Audio != nil:
		return s.buildMedia(ctx, content.Audio, whatsmeow.MediaAudio, content.Mentions)
	case content.Document != nil:
		return s.buildMedia(ctx, content.Document, whatsmeow.MediaDocument, content.Mentions)
	}

	if len(content.Mentions) > 0 {
		return &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(content.Text),
				ContextInfo: &waE2E.ContextInfo{
					MentionedJID: content.Mentions,
				},
			},
		}, nil
	}

	return &waE2E.Message{Conversation: proto.String(content.Text)}, nil
}

func (s *Socket) buildMedia(ctx context.Context, ref *wire.MediaRef, mediaType whatsmeow.MediaType, mentions []string) (*waE2E.Message, error) {
	data, err := s.fetchMedia(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	uploaded, err := s.client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, errors.WrapTransient(err, "Socket", "buildMedia", "uploading media from "+ref.URL)
	}

	var caption *string
	if ref.Caption != "" {
		caption = proto.String(ref.Caption)
	}
	var contextInfo *waE2E.ContextInfo
	if len(mentions) > 0 {
		contextInfo = &waE2E.ContextInfo{MentionedJID: mentions}
	}

	switch mediaType {
	case whatsmeow.MediaImage:
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       caption,
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(ref.MimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				ContextInfo:   contextInfo,
			},
		}, nil

	case whatsmeow.MediaVideo:
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				Caption:       caption,
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(ref.MimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				ContextInfo:   contextInfo,
			},
		}, nil

	case whatsmeow.MediaAudio:
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(ref.MimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
			},
		}, nil

	default:
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				Caption:       caption,
				FileName:      proto.String(ref.FileName),
				URL:           &uploaded.URL,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(ref.MimeType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				ContextInfo:   contextInfo,
			},
		}, nil
	}
}

func (s *Socket) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Socket", "fetchMedia", "building request for "+url)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Socket", "fetchMedia", "fetching "+url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("unexpected status %d", resp.StatusCode),
			"Socket", "fetchMedia", "fetching "+url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Socket", "fetchMedia", "reading body of "+url)
	}
	return data, nil
}

// SendPresence implements wire.Socket.
func (s *Socket) SendPresence(ctx context.Context, jid string, presence wire.Presence) error {
	target, err := types.ParseJID(jid)
	if err != nil {
		return errors.WrapInvalid(err, "Socket", "SendPresence", "parsing jid "+jid)
	}

	state := types.ChatPresenceComposing
	if presence == wire.PresencePaused {
		state = types.ChatPresencePaused
	}

	if err := s.client.SendChatPresence(ctx, target, state, types.ChatPresenceMediaText); err != nil {
		return errors.WrapTransient(err, "Socket", "SendPresence", "signaling presence to "+jid)
	}
	return nil
}

// ProfilePictureURL implements wire.Socket.
func (s *Socket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	target, err := types.ParseJID(jid)
	if err != nil {
		return "", errors.WrapInvalid(err, "Socket", "ProfilePictureURL", "parsing jid "+jid)
	}

	info, err := s.client.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", errors.WrapTransient(err, "Socket", "ProfilePictureURL", "fetching picture for "+jid)
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

// FetchMessageHistory implements wire.Socket. The request is a peer message
// to the session's own device; results arrive later as a history-sync
// notification.
func (s *Socket) FetchMessageHistory(ctx context.Context, count int, oldest time.Time) error {
	self := s.client.Store.ID
	if self == nil {
		return errors.Wrap(errors.ErrNoSocket, "Socket", "FetchMessageHistory", "socket has no identity")
	}

	var anchor *types.MessageInfo
	if !oldest.IsZero() {
		anchor = &types.MessageInfo{Timestamp: oldest}
	}

	msg := s.client.BuildHistorySyncRequest(anchor, count)
	if msg == nil {
		return errors.Wrap(errors.ErrSendFailed, "Socket", "FetchMessageHistory", "building history request")
	}

	_, err := s.client.SendMessage(ctx, self.ToNonAD(), msg, whatsmeow.SendRequestExtra{Peer: true})
	if err != nil {
		return errors.WrapTransient(err, "Socket", "FetchMessageHistory", "requesting history")
	}
	return nil
}

// DownloadMedia implements wire.Socket.
func (s *Socket) DownloadMedia(ctx context.Context, msg *wire.Message) ([]byte, error) {
	if msg == nil || msg.Message == nil {
		return nil, errors.Wrap(errors.ErrMediaProcessingFailed, "Socket", "DownloadMedia", "empty message")
	}

	var downloadable whatsmeow.DownloadableMessage
	switch {
	case msg.Message.GetImageMessage() != nil:
		downloadable = msg.Message.GetImageMessage()
	case msg.Message.GetVideoMessage() != nil:
		downloadable = msg.Message.GetVideoMessage()
	case msg.Message.GetAudioMessage() != nil:
		downloadable = msg.Message.GetAudioMessage()
	case msg.Message.GetDocumentMessage() != nil:
		downloadable = msg.Message.GetDocumentMessage()
	case msg.Message.GetStickerMessage() != nil:
		downloadable = msg.Message.GetStickerMessage()
	default:
		return nil, errors.Wrap(errors.ErrMediaProcessingFailed, "Socket", "DownloadMedia", "message "+msg.Key.ID+" carries no media")
	}

	data, err := s.client.Download(ctx, downloadable)
	if err != nil {
		return nil, errors.WrapTransient(err, "Socket", "DownloadMedia", "downloading media of "+msg.Key.ID)
	}
	return data, nil
}
