package oauth2

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/core/logging"
	"github.com/abdul-hamid-achik/courier/packages/session"
)

// refreshTimeout bounds a token refresh started by a rejected request.
const refreshTimeout = 30 * time.Second

// Handler is both the Adapter and the Retrier of a session. It sets the
// bearer token on every attempt and, when a response comes back 401,
// refreshes the token once and retries every request that was rejected.
//
// Only failed requests reach a Retrier, so requests need a status
// validation for a 401 to count as a failure.
type Handler struct {
	provider *Provider
	// Next decides for failures that are not token rejections
	Next   session.Retrier
	Logger *slog.Logger

	mu         sync.Mutex
	refreshing bool
	waiting    []func(session.RetryDecision)
}

var (
	_ session.Adapter = (*Handler)(nil)
	_ session.Retrier = (*Handler)(nil)
)

// NewHandler returns a handler getting tokens from provider.
func NewHandler(provider *Provider) *Handler {
	return &Handler{provider: provider}
}

// Adapt implements session.Adapter.
func (h *Handler) Adapt(req *http.Request) (*http.Request, error) {
	token, err := h.provider.GetToken(req.Context())
	if err != nil {
		return nil, err
	}
	adapted := req.Clone(req.Context())
	adapted.Header.Set("Authorization", token.Authorization())
	return adapted, nil
}

// Should implements session.Retrier.
func (h *Handler) Should(req *session.Request, err error, completion func(session.RetryDecision)) {
	resp := req.HTTPResponse()
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		if h.Next != nil {
			h.Next.Should(req, err, completion)
			return
		}
		completion(session.RetryDecision{})
		return
	}

	sent := ""
	if r := req.HTTPRequest(); r != nil {
		sent = r.Header.Get("Authorization")
	}
	if current := h.provider.Current(); current != nil {
		// refreshed since this attempt was sent
		if sent != current.Authorization() {
			completion(session.RetryDecision{Retry: true})
			return
		}
		// the newest token was rejected on a retry
		if req.RetryCount() > 0 {
			completion(session.RetryDecision{})
			return
		}
	}

	h.mu.Lock()
	h.waiting = append(h.waiting, completion)
	if h.refreshing {
		h.mu.Unlock()
		return
	}
	h.refreshing = true
	h.mu.Unlock()

	go h.refresh()
}

func (h *Handler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	_, err := h.provider.Refresh(ctx)
	if err != nil {
		h.logger().Warn("token refresh failed", "error", err)
	} else {
		h.logger().Debug("token refreshed")
	}

	h.mu.Lock()
	waiting := h.waiting
	h.waiting = nil
	h.refreshing = false
	h.mu.Unlock()

	for _, complete := range waiting {
		complete(session.RetryDecision{Retry: err == nil})
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return logging.Nop()
}
