// Package transport wraps every outgoing API request with bearer-token
// attachment and a single refresh-and-retry cycle on authorization failure.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/taskdeck-dev/taskdeck/internal/session"
)

const bearerPrefix = "Bearer "

// Refresher renews the access token; all concurrent callers share one renewal
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Transport is an http.RoundTripper that attaches the current access token
// to outgoing requests and, on a 401 response, replays the request exactly
// once after a successful token renewal. Identity and renewal endpoints are
// passed through untouched so a failing renewal can never recurse.
type Transport struct {
	base      http.RoundTripper
	store     *session.Store
	refresher Refresher
	log       zerolog.Logger
}

// New creates a Transport wrapping base (http.DefaultTransport when nil)
func New(base http.RoundTripper, store *session.Store, refresher Refresher, log zerolog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:      base,
		store:     store,
		refresher: refresher,
		log:       log,
	}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := ulid.Make().String()

	if isIdentityRequest(req.URL.Path) {
		return t.base.RoundTrip(t.prepare(req, "", requestID, ""))
	}

	// One idempotency key per logical request so the post-refresh replay
	// is deduplicated server-side
	idempotencyKey := ""
	if isMutating(req.Method) {
		idempotencyKey = uuid.NewString()
	}

	token := t.store.Current().AccessToken

	resp, err := t.base.RoundTrip(t.prepare(req, token, requestID, idempotencyKey))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	newToken, refreshErr := t.refresher.Refresh(req.Context())
	if refreshErr != nil {
		// Session already cleared by the coordinator; the caller sees the
		// original authorization failure
		t.log.Debug().
			Str("request_id", requestID).
			Err(refreshErr).
			Msg("Token renewal failed, propagating 401")
		return resp, nil
	}

	retry, retryErr := t.replayable(req)
	if retryErr != nil {
		t.log.Warn().
			Str("request_id", requestID).
			Err(retryErr).
			Msg("Cannot replay request after refresh")
		return resp, nil
	}

	drain(resp)
	t.log.Debug().
		Str("request_id", requestID).
		Msg("Replaying request with renewed token")

	return t.base.RoundTrip(t.prepare(retry, newToken, requestID, idempotencyKey))
}

// prepare clones req with the bearer token and ambient headers attached
func (t *Transport) prepare(req *http.Request, token, requestID, idempotencyKey string) *http.Request {
	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", bearerPrefix+token)
	}
	r.Header.Set("X-Request-ID", requestID)
	if idempotencyKey != "" {
		r.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return r
}

// replayable rebuilds req with a fresh body for the post-refresh resend
func (t *Transport) replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

// isIdentityRequest reports whether the request targets the identity or
// renewal endpoints. Those never carry a bearer header and never trigger
// refresh-on-401 handling.
func isIdentityRequest(path string) bool {
	return strings.HasPrefix(path, "/users") || strings.HasPrefix(path, "/token/")
}

// isMutating reports whether the method warrants an idempotency key
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// drain discards and closes a response body so the connection can be reused
func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
