package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rgranatodutra/wwebjs-api/message"
)

// clientIDPlaceholder is substituted with the event's client id in endpoint
// URLs, e.g. "http://crm.local/clients/:clientId/wpp-events".
const clientIDPlaceholder = ":clientId"

// HTTP posts each event as JSON to a fixed list of endpoints.
type HTTP struct {
	endpoints []string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTP builds an HTTP emitter for the given endpoints.
func NewHTTP(endpoints []string, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger,
	}
}

var _ Emitter = (*HTTP)(nil)

// Emit posts the event to every endpoint. Failures are logged per endpoint
// and never propagated; one endpoint failing does not skip the rest.
func (h *HTTP) Emit(ctx context.Context, event message.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "kind", event.Kind(), "error", err)
		return
	}

	clientID := clientIDOf(event)
	for _, endpoint := range h.endpoints {
		url := strings.ReplaceAll(endpoint, clientIDPlaceholder, strconv.Itoa(clientID))
		if err := h.post(ctx, url, body); err != nil {
			h.logger.Error("failed to emit event", "kind", event.Kind(), "endpoint", url, "error", err)
		}
	}
}

func (h *HTTP) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func clientIDOf(event message.Event) int {
	switch e := event.(type) {
	case message.QRReceivedEvent:
		return e.ClientID
	case message.AuthSuccessEvent:
		return e.ClientID
	case message.MessageReceivedEvent:
		return e.ClientID
	case message.MessageStatusReceivedEvent:
		return e.ClientID
	}
	return 0
}
