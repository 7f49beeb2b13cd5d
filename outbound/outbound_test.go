package outbound

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/rgranatodutra/wwebjs-api/audit"
	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/files"
	"github.com/rgranatodutra/wwebjs-api/mapper"
	"github.com/rgranatodutra/wwebjs-api/message"
	"github.com/rgranatodutra/wwebjs-api/session"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

type dispatchCall struct {
	jid     string
	content wire.Content
}

type fakeSocket struct {
	mu        sync.Mutex
	calls     []dispatchCall
	presences []wire.Presence
	failures  int
	returnNil bool
	mediaEcho bool
}

func (f *fakeSocket) SendMessage(ctx context.Context, jid string, content wire.Content) (*wire.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{jid: jid, content: content})

	if len(f.calls) <= f.failures {
		return nil, fmt.Errorf("dispatch refused")
	}
	if f.returnNil {
		return nil, nil
	}

	echo := &waE2E.Message{Conversation: proto.String("echo")}
	if f.mediaEcho {
		echo = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:  proto.String("echo"),
			Mimetype: proto.String("image/jpeg"),
		}}
	}

	return &wire.Message{
		Key: wire.MessageKey{
			ID:        fmt.Sprintf("SENT-%d", len(f.calls)),
			RemoteJID: jid,
			FromMe:    true,
		},
		Message:   echo,
		Timestamp: 1700000000,
	}, nil
}

func (f *fakeSocket) SendPresence(ctx context.Context, jid string, presence wire.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, presence)
	return nil
}

func (f *fakeSocket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	return "", nil
}

func (f *fakeSocket) FetchMessageHistory(ctx context.Context, count int, oldest time.Time) error {
	return nil
}

func (f *fakeSocket) DownloadMedia(ctx context.Context, msg *wire.Message) ([]byte, error) {
	return nil, nil
}

func (f *fakeSocket) SelfJID() string { return "5511900000000@s.whatsapp.net" }

func (f *fakeSocket) BindHandlers(h wire.Handlers) {}

func (f *fakeSocket) Close() error { return nil }

func (f *fakeSocket) dispatches() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispatchCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSocket) presenceSignals() []wire.Presence {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Presence, len(f.presences))
	copy(out, f.presences)
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*storage.RawMessageRecord
}

func (f *fakeStore) SaveAuthState(ctx context.Context, sessionID string) error  { return nil }
func (f *fakeStore) ClearAuthState(ctx context.Context, sessionID string) error { return nil }

func (f *fakeStore) SaveRawMessage(ctx context.Context, sessionID string, msg *waE2E.Message, key wire.MessageKey) error {
	return nil
}

func (f *fakeStore) GetRawMessage(ctx context.Context, sessionID string, key wire.MessageKey) *waE2E.Message {
	return nil
}

func (f *fakeStore) GetFullRawMessage(ctx context.Context, sessionID, messageID string) (*storage.RawMessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[messageID]; ok {
		return rec, nil
	}
	return nil, errors.ErrMessageNotFound
}

func (f *fakeStore) SaveGroupMetadata(ctx context.Context, sessionID, jid string, metadata []byte) error {
	return nil
}

func (f *fakeStore) GetGroupMetadata(ctx context.Context, sessionID, jid string) []byte { return nil }

func (f *fakeStore) SaveAuditRecord(ctx context.Context, record *storage.AuditRecord) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, sock *fakeSocket, store *fakeStore, min, max time.Duration) *Pipeline {
	t.Helper()
	logger := testLogger()

	sess := session.New(session.Options{
		SessionID: "test-session",
		ClientID:  7,
		Instance:  "test",
		Factory: func(ctx context.Context, sessionID string) (wire.Socket, error) {
			return sock, nil
		},
		Store:   store,
		Emitter: nopEmitter{},
		Audit:   audit.NewSink(store, logger, "test"),
		Logger:  logger,
	})
	require.NoError(t, sess.Build(context.Background()))

	return New(Options{
		Session:        sess,
		Store:          store,
		Mapper:         mapper.New(nil, "test", 7, logger),
		Audit:          audit.NewSink(store, logger, "test"),
		Logger:         logger,
		MinTypingSpeed: min,
		MaxTypingSpeed: max,
	})
}

type nopEmitter struct{}

func (nopEmitter) Emit(ctx context.Context, event message.Event) {}

func TestSendText(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	msg, err := p.Send(context.Background(), SendOptions{To: "5511987654321", Text: "hi"}, false)
	require.NoError(t, err)

	calls := sock.dispatches()
	require.Len(t, calls, 1)
	assert.Equal(t, "5511987654321@s.whatsapp.net", calls[0].jid)
	assert.True(t, calls[0].content.HasText)
	assert.Equal(t, "hi", calls[0].content.Text)

	assert.Equal(t, "SENT-1", msg.StanzaID)
	assert.Equal(t, message.StatusPending, msg.Status)
	assert.Equal(t, message.ContentChat, msg.Type)
}

func TestSendGroup(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	_, err := p.Send(context.Background(), SendOptions{To: "123456789-987", Text: "hi"}, true)
	require.NoError(t, err)

	calls := sock.dispatches()
	require.Len(t, calls, 1)
	assert.Equal(t, "123456789-987@g.us", calls[0].jid)
}

func TestSendRetriesWithAlternateDestination(t *testing.T) {
	sock := &fakeSocket{failures: 1}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	msg, err := p.Send(context.Background(), SendOptions{To: "5511987654321", Text: "hi"}, false)
	require.NoError(t, err)

	calls := sock.dispatches()
	require.Len(t, calls, 2, "exactly one retry, no third attempt")
	assert.Equal(t, "5511987654321@s.whatsapp.net", calls[0].jid)
	assert.Equal(t, "551187654321@s.whatsapp.net", calls[1].jid)

	assert.Equal(t, "SENT-2", msg.StanzaID)
}

func TestSendFailsAfterRetry(t *testing.T) {
	sock := &fakeSocket{failures: 2}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	_, err := p.Send(context.Background(), SendOptions{To: "5511987654321", Text: "hi"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSendFailed)
	assert.Len(t, sock.dispatches(), 2)
}

func TestSendNilResultIsSendFailed(t *testing.T) {
	sock := &fakeSocket{returnNil: true}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	_, err := p.Send(context.Background(), SendOptions{To: "5511987654321", Text: "hi"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSendFailed)
}

func TestSendInvalidAddressNotRetried(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	_, err := p.Send(context.Background(), SendOptions{To: "not-a-phone", Text: "hi"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidAddressFormat)
	assert.Empty(t, sock.dispatches(), "validation failure must not reach dispatch")
}

func TestSendEmptyTextNotRetried(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	_, err := p.Send(context.Background(), SendOptions{To: "5511987654321"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmptyTextMessage)
	assert.Empty(t, sock.dispatches())
}

type refusingUploader struct{}

func (refusingUploader) Upload(ctx context.Context, req files.UploadRequest) (*files.UploadedFile, error) {
	return nil, fmt.Errorf("storage unavailable")
}

func TestSendMediaMappingFailureNotRedispatched(t *testing.T) {
	sock := &fakeSocket{mediaEcho: true}
	store := &fakeStore{}
	logger := testLogger()

	sess := session.New(session.Options{
		SessionID: "test-session",
		ClientID:  7,
		Instance:  "test",
		Factory: func(ctx context.Context, sessionID string) (wire.Socket, error) {
			return sock, nil
		},
		Store:   store,
		Emitter: nopEmitter{},
		Audit:   audit.NewSink(store, logger, "test"),
		Logger:  logger,
	})
	require.NoError(t, sess.Build(context.Background()))

	p := New(Options{
		Session: sess,
		Store:   store,
		Mapper:  mapper.New(refusingUploader{}, "test", 7, logger),
		Audit:   audit.NewSink(store, logger, "test"),
		Logger:  logger,
	})

	_, err := p.Send(context.Background(), SendOptions{To: "5511987654321", FileURL: "https://cdn.example/pic.jpg"}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMediaProcessingFailed)
	assert.Len(t, sock.dispatches(), 1, "message already on the wire, mapping failure must not dispatch a copy")
}

func TestBuildContentBranches(t *testing.T) {
	tests := []struct {
		name string
		opts SendOptions
		want func(t *testing.T, c wire.Content)
	}{
		{
			name: "image with caption",
			opts: SendOptions{To: "x", Text: "look", FileURL: "http://f/1", FileType: "image/png"},
			want: func(t *testing.T, c wire.Content) {
				require.NotNil(t, c.Image)
				assert.Equal(t, "look", c.Image.Caption)
			},
		},
		{
			name: "video",
			opts: SendOptions{To: "x", FileURL: "http://f/2", FileType: "video/mp4"},
			want: func(t *testing.T, c wire.Content) {
				require.NotNil(t, c.Video)
			},
		},
		{
			name: "audio",
			opts: SendOptions{To: "x", FileURL: "http://f/3", FileType: "audio/ogg"},
			want: func(t *testing.T, c wire.Content) {
				require.NotNil(t, c.Audio)
			},
		},
		{
			name: "unknown mime falls back to document",
			opts: SendOptions{To: "x", FileURL: "http://f/4", FileName: "report.pdf"},
			want: func(t *testing.T, c wire.Content) {
				require.NotNil(t, c.Document)
				assert.Equal(t, "application/octet-stream", c.Document.MimeType)
				assert.Equal(t, "report.pdf", c.Document.FileName)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, err := buildContent(tt.opts)
			require.NoError(t, err)
			tt.want(t, content)
		})
	}
}

func TestTypingSimulation(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, time.Millisecond, 2*time.Millisecond)

	_, err := p.Send(context.Background(), SendOptions{To: "5511987654321", Text: "hi"}, false)
	require.NoError(t, err)

	signals := sock.presenceSignals()
	require.Len(t, signals, 2)
	assert.Equal(t, wire.PresenceComposing, signals[0])
	assert.Equal(t, wire.PresencePaused, signals[1])
}

func TestTypingSkippedForFileWithoutCaption(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, time.Millisecond, 2*time.Millisecond)

	_, err := p.Send(context.Background(), SendOptions{
		To:       "5511987654321",
		FileURL:  "http://f/1",
		FileType: "image/png",
	}, false)
	require.NoError(t, err)

	assert.Empty(t, sock.presenceSignals())
}

func TestTypingDurationScalesWithLength(t *testing.T) {
	p := newTestPipeline(t, &fakeSocket{}, &fakeStore{}, 10*time.Millisecond, 20*time.Millisecond)
	p.randFloat = func() float64 { return 0.5 }

	assert.Equal(t, 150*time.Millisecond, p.typingDuration(10))
	assert.Equal(t, 300*time.Millisecond, p.typingDuration(20))
}

func TestEditMessageNotFound(t *testing.T) {
	sock := &fakeSocket{}
	p := newTestPipeline(t, sock, &fakeStore{}, 0, 0)

	_, err := p.Edit(context.Background(), EditOptions{MessageID: "MISSING", Text: "new"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMessageNotFound)
	assert.Empty(t, sock.dispatches(), "lookup failure must not reach dispatch")
}

func TestEditDispatchesAgainstStoredJID(t *testing.T) {
	sock := &fakeSocket{}
	store := &fakeStore{records: map[string]*storage.RawMessageRecord{
		"MSG1": {
			MessageID: "MSG1",
			RemoteJID: "5511922222222@s.whatsapp.net",
			Message:   &waE2E.Message{Conversation: proto.String("old")},
		},
	}}
	p := newTestPipeline(t, sock, store, 0, 0)

	msg, err := p.Edit(context.Background(), EditOptions{
		MessageID: "MSG1",
		Text:      "new text",
		Mentions:  []string{"5511933333333", "not-a-phone"},
	})
	require.NoError(t, err)

	calls := sock.dispatches()
	require.Len(t, calls, 1)
	assert.Equal(t, "5511922222222@s.whatsapp.net", calls[0].jid)
	require.NotNil(t, calls[0].content.Edit)
	assert.Equal(t, "MSG1", calls[0].content.Edit.ID)
	assert.Equal(t, "new text", calls[0].content.Text)
	assert.Equal(t, []string{"5511933333333@s.whatsapp.net"}, calls[0].content.Mentions,
		"unnormalizable mentions are skipped")

	assert.Equal(t, "SENT-1", msg.StanzaID)
}

func TestEditNilResultIsEditFailed(t *testing.T) {
	sock := &fakeSocket{returnNil: true}
	store := &fakeStore{records: map[string]*storage.RawMessageRecord{
		"MSG1": {MessageID: "MSG1", RemoteJID: "5511922222222@s.whatsapp.net"},
	}}
	p := newTestPipeline(t, sock, store, 0, 0)

	_, err := p.Edit(context.Background(), EditOptions{MessageID: "MSG1", Text: "new"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEditFailed)
	assert.Len(t, sock.dispatches(), 1, "edit is not retried")
}
