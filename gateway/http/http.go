// Package http is the REST surface of the service: health probe, outbound
// send/edit, avatar lookup and the prometheus scrape endpoint.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rgranatodutra/wwebjs-api/address"
	"github.com/rgranatodutra/wwebjs-api/errors"
	"github.com/rgranatodutra/wwebjs-api/metric"
	"github.com/rgranatodutra/wwebjs-api/outbound"
	"github.com/rgranatodutra/wwebjs-api/session"
)

// maxRequestSize bounds request bodies; send/edit payloads are small JSON
// documents, media travels by URL.
const maxRequestSize = 1 << 20

// getOrGenerateRequestID extracts the request ID from headers or generates a
// fresh one so responses can be correlated with log lines.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// API exposes the messaging pipelines over HTTP.
type API struct {
	outbound *outbound.Pipeline
	session  *session.Session
	registry *metric.MetricsRegistry
	logger   *slog.Logger

	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64

	mu           sync.RWMutex
	lastActivity time.Time
}

// Options configures an API.
type Options struct {
	Outbound *outbound.Pipeline
	Session  *session.Session
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// NewAPI builds the REST surface around the given collaborators.
func NewAPI(opts Options) (*API, error) {
	if opts.Outbound == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "API", "NewAPI",
			"outbound pipeline is required")
	}
	if opts.Session == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "API", "NewAPI",
			"session is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &API{
		outbound: opts.Outbound,
		session:  opts.Session,
		registry: opts.Registry,
		logger:   logger.With("component", "api"),
	}, nil
}

// RegisterHandlers mounts every route on the mux.
func (a *API) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", a.wrap(http.MethodGet, a.handleHealth))
	mux.HandleFunc("/api/send-message", a.wrap(http.MethodPost, a.handleSendMessage))
	mux.HandleFunc("/api/edit-message", a.wrap(http.MethodPost, a.handleEditMessage))
	mux.HandleFunc("/api/avatar", a.wrap(http.MethodGet, a.handleAvatar))

	if a.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			a.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
}

// Handler returns a mux with every route registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterHandlers(mux)
	return mux
}

// wrap applies the method filter, request ID and bookkeeping common to every
// route.
func (a *API) wrap(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		a.requestsTotal.Add(1)
		a.mu.Lock()
		a.lastActivity = time.Now()
		a.mu.Unlock()

		if r.Method != method {
			a.writeError(w, http.StatusMethodNotAllowed,
				fmt.Sprintf("method %s not allowed", r.Method))
			a.requestsFailed.Add(1)
			return
		}

		h(w, r)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
	a.requestsSuccess.Add(1)
}

// sendMessageRequest is the send-message body: the outbound options plus the
// group flag.
type sendMessageRequest struct {
	outbound.SendOptions
	IsGroup bool `json:"isGroup"`
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !a.decodeBody(w, r, &req) {
		return
	}

	msg, err := a.outbound.Send(r.Context(), req.SendOptions, req.IsGroup)
	if err != nil {
		a.failRequest(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, msg)
	a.requestsSuccess.Add(1)
}

func (a *API) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req outbound.EditOptions
	if !a.decodeBody(w, r, &req) {
		return
	}

	msg, err := a.outbound.Edit(r.Context(), req)
	if err != nil {
		a.failRequest(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, msg)
	a.requestsSuccess.Add(1)
}

// avatarResponse carries the profile picture URL, empty when the contact has
// none visible.
type avatarResponse struct {
	URL string `json:"url"`
}

func (a *API) handleAvatar(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")

	jid, err := address.Normalize(phone)
	if err != nil {
		a.failRequest(w, r, err)
		return
	}

	sock, err := a.session.Socket()
	if err != nil {
		a.failRequest(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	url, err := sock.ProfilePictureURL(ctx, jid)
	if err != nil {
		a.failRequest(w, r, err)
		return
	}

	a.writeJSON(w, http.StatusOK, avatarResponse{URL: url})
	a.requestsSuccess.Add(1)
}

// decodeBody reads and parses a JSON request body, answering 4xx itself on
// failure.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "failed to read request body")
		a.requestsFailed.Add(1)
		return false
	}
	if int64(len(body)) > maxRequestSize {
		a.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", maxRequestSize))
		a.requestsFailed.Add(1)
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		a.requestsFailed.Add(1)
		return false
	}
	return true
}

func (a *API) failRequest(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed",
		"path", r.URL.Path,
		"request_id", w.Header().Get("X-Request-ID"),
		"error", err)

	a.writeError(w, mapErrorToHTTPStatus(err), sanitizeError(err))
	a.requestsFailed.Add(1)
}

// mapErrorToHTTPStatus maps the service error taxonomy to HTTP statuses.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrMessageNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrNoSocket):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe message for external clients; full details
// stay in the logs.
func sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case stderrors.Is(err, errors.ErrMessageNotFound):
		return "message not found"
	case stderrors.Is(err, errors.ErrInvalidAddressFormat):
		return "invalid destination address"
	case stderrors.Is(err, errors.ErrEmptyTextMessage):
		return "text message requires a non-empty text"
	case stderrors.Is(err, errors.ErrNoSocket):
		return "session not connected"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func (a *API) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("writing response failed", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}
	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}

// Stats is a point-in-time request counter snapshot.
type Stats struct {
	Total        uint64
	Success      uint64
	Failed       uint64
	LastActivity time.Time
}

// Stats returns the request counters.
func (a *API) Stats() Stats {
	a.mu.RLock()
	last := a.lastActivity
	a.mu.RUnlock()

	return Stats{
		Total:        a.requestsTotal.Load(),
		Success:      a.requestsSuccess.Load(),
		Failed:       a.requestsFailed.Load(),
		LastActivity: last,
	}
}
