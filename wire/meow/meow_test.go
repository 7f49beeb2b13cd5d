package meow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/rgranatodutra/wwebjs-api/wire"
)

type fakeRawSource struct {
	mu       sync.Mutex
	messages map[string]*waE2E.Message
	lookups  []wire.MessageKey
}

func (f *fakeRawSource) GetRawMessage(ctx context.Context, sessionID string, key wire.MessageKey) *waE2E.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, key)
	return f.messages[key.ID]
}

func TestRetryMessageLookupResolvesFromStore(t *testing.T) {
	stored := &waE2E.Message{Conversation: proto.String("original payload")}
	source := &fakeRawSource{messages: map[string]*waE2E.Message{"MSG-1": stored}}

	lookup := retryMessageLookup(source, "test-session")

	requester, err := types.ParseJID("5511911111111@s.whatsapp.net")
	require.NoError(t, err)
	to, err := types.ParseJID("5511922222222@s.whatsapp.net")
	require.NoError(t, err)

	got := lookup(requester, to, "MSG-1")
	assert.Same(t, stored, got)

	require.Len(t, source.lookups, 1)
	assert.Equal(t, "MSG-1", source.lookups[0].ID)
	assert.Equal(t, "5511922222222@s.whatsapp.net", source.lookups[0].RemoteJID)
}

func TestRetryMessageLookupMissReturnsNil(t *testing.T) {
	source := &fakeRawSource{}
	lookup := retryMessageLookup(source, "test-session")

	requester, err := types.ParseJID("5511911111111@s.whatsapp.net")
	require.NoError(t, err)
	to, err := types.ParseJID("5511922222222@s.whatsapp.net")
	require.NoError(t, err)

	assert.Nil(t, lookup(requester, to, "UNKNOWN"))
}
