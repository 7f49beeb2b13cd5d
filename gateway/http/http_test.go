package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/rgranatodutra/wwebjs-api/audit"
	pkgerrors "github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/mapper"
	"github.com/rgranatodutra/wwebjs-api/message"
	"github.com/rgranatodutra/wwebjs-api/metric"
	"github.com/rgranatodutra/wwebjs-api/outbound"
	"github.com/rgranatodutra/wwebjs-api/session"
	"github.com/rgranatodutra/wwebjs-api/storage"
	"github.com/rgranatodutra/wwebjs-api/wire"
)

type fakeSocket struct {
	mu        sync.Mutex
	calls     []string
	avatarURL string
}

func (f *fakeSocket) SendMessage(ctx context.Context, jid string, content wire.Content) (*wire.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, jid)

	return &wire.Message{
		Key: wire.MessageKey{
			ID:        fmt.Sprintf("SENT-%d", len(f.calls)),
			RemoteJID: jid,
			FromMe:    true,
		},
		Message:   &waE2E.Message{Conversation: proto.String("echo")},
		Timestamp: 1700000000,
	}, nil
}

func (f *fakeSocket) SendPresence(ctx context.Context, jid string, presence wire.Presence) error {
	return nil
}

func (f *fakeSocket) ProfilePictureURL(ctx context.Context, jid string) (string, error) {
	return f.avatarURL, nil
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

func (f *fakeSocket) dispatches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
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
	return nil, pkgerrors.ErrMessageNotFound
}

func (f *fakeStore) SaveGroupMetadata(ctx context.Context, sessionID, jid string, metadata []byte) error {
	return nil
}

func (f *fakeStore) GetGroupMetadata(ctx context.Context, sessionID, jid string) []byte { return nil }

func (f *fakeStore) SaveAuditRecord(ctx context.Context, record *storage.AuditRecord) error {
	return nil
}

type nopEmitter struct{}

func (nopEmitter) Emit(ctx context.Context, event message.Event) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T, sock *fakeSocket, store *fakeStore, registry *metric.MetricsRegistry) *API {
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

	pipeline := outbound.New(outbound.Options{
		Session: sess,
		Store:   store,
		Mapper:  mapper.New(nil, "test", 7, logger),
		Audit:   audit.NewSink(store, logger, "test"),
		Logger:  logger,
	})

	api, err := NewAPI(Options{
		Outbound: pipeline,
		Session:  sess,
		Registry: registry,
		Logger:   logger,
	})
	require.NoError(t, err)
	return api
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSendMessage(t *testing.T) {
	sock := &fakeSocket{}
	api := newTestAPI(t, sock, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	body := `{"to": "5511987654321", "text": "hello"}`
	resp, err := http.Post(srv.URL+"/api/send-message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg message.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "SENT-1", msg.StanzaID)
	assert.Equal(t, message.StatusPending, msg.Status)

	calls := sock.dispatches()
	require.Len(t, calls, 1)
	assert.Equal(t, "5511987654321@s.whatsapp.net", calls[0])
}

func TestSendMessageGroup(t *testing.T) {
	sock := &fakeSocket{}
	api := newTestAPI(t, sock, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	body := `{"to": "123456789-987", "text": "hello", "isGroup": true}`
	resp, err := http.Post(srv.URL+"/api/send-message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	calls := sock.dispatches()
	require.Len(t, calls, 1)
	assert.Equal(t, "123456789-987@g.us", calls[0])
}

func TestSendMessageInvalidAddress(t *testing.T) {
	sock := &fakeSocket{}
	api := newTestAPI(t, sock, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	body := `{"to": "not-a-phone", "text": "hello"}`
	resp, err := http.Post(srv.URL+"/api/send-message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "invalid destination address", payload["error"])
	assert.Empty(t, sock.dispatches())
}

func TestSendMessageMalformedJSON(t *testing.T) {
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/send-message", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessageMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/send-message")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEditMessage(t *testing.T) {
	sock := &fakeSocket{}
	store := &fakeStore{records: map[string]*storage.RawMessageRecord{
		"ORIG-1": {
			SessionID: "test-session",
			MessageID: "ORIG-1",
			RemoteJID: "5511987654321@s.whatsapp.net",
			Message:   &waE2E.Message{Conversation: proto.String("before")},
			Key:       wire.MessageKey{ID: "ORIG-1", RemoteJID: "5511987654321@s.whatsapp.net"},
		},
	}}
	api := newTestAPI(t, sock, store, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	body := `{"messageId": "ORIG-1", "text": "after"}`
	resp, err := http.Post(srv.URL+"/api/edit-message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	calls := sock.dispatches()
	require.Len(t, calls, 1)
	assert.Equal(t, "5511987654321@s.whatsapp.net", calls[0])
}

func TestEditMessageNotFound(t *testing.T) {
	sock := &fakeSocket{}
	api := newTestAPI(t, sock, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	body := `{"messageId": "MISSING", "text": "after"}`
	resp, err := http.Post(srv.URL+"/api/edit-message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, sock.dispatches())
}

func TestAvatar(t *testing.T) {
	sock := &fakeSocket{avatarURL: "https://pps.whatsapp.net/pic.jpg"}
	api := newTestAPI(t, sock, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/avatar?phone=5511987654321")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload avatarResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "https://pps.whatsapp.net/pic.jpg", payload.URL)
}

func TestAvatarInvalidPhone(t *testing.T) {
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/avatar?phone=")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	registry.Metrics.RecordSessionStatus("test-session", metric.StatusOpen)
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, registry)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wwebjs_session_status")
}

func TestRequestIDPropagation(t *testing.T) {
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "trace-123", resp.Header.Get("X-Request-ID"))
}

func TestStatsCounting(t *testing.T) {
	api := newTestAPI(t, &fakeSocket{}, &fakeStore{}, nil)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/send-message")
	require.NoError(t, err)
	resp.Body.Close()

	stats := api.Stats()
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, uint64(1), stats.Success)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.False(t, stats.LastActivity.IsZero())
}
