// Package refresh coordinates access token renewal. No matter how many
// callers discover an expired or rejected token at overlapping times,
// exactly one renewal call reaches the server and every caller resumes
// with its outcome.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/taskdeck-dev/taskdeck/internal/session"
)

// DefaultTimeout bounds the renewal network call. A renewal that exceeds it
// counts as a refresh failure.
const DefaultTimeout = 15 * time.Second

// ErrRefreshFailed indicates the renewal endpoint rejected the refresh token
// or was unreachable. The session has already been cleared when this is
// returned; the caller's only job is to route the user back to login.
var ErrRefreshFailed = errors.New("refresh: token renewal failed")

// Coordinator performs single-flight token renewal against the API
type Coordinator struct {
	baseURL    string
	store      *session.Store
	httpClient *http.Client
	timeout    time.Duration
	group      singleflight.Group
	log        zerolog.Logger
}

// New creates a Coordinator. The HTTP client must be a plain client: renewal
// requests carry no bearer header and must never re-enter 401 handling.
func New(baseURL string, store *session.Store, httpClient *http.Client, timeout time.Duration, log zerolog.Logger) *Coordinator {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		baseURL:    baseURL,
		store:      store,
		httpClient: httpClient,
		timeout:    timeout,
		log:        log,
	}
}

// refreshRequest is the renewal endpoint request body
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse is the renewal endpoint response envelope
type refreshResponse struct {
	Data struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// Refresh renews the access token and returns the new one. Concurrent
// callers attach to the in-flight renewal instead of starting another; all
// of them observe the same outcome. On success the session store already
// holds the new tokens; on failure the store has been cleared and every
// caller receives ErrRefreshFailed.
//
// Cancelling ctx detaches only the calling waiter. The renewal itself runs
// under the coordinator's own bounded context and settles regardless of how
// many listeners remain.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		return c.renew()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// renew performs the actual renewal network call exactly once per flight
func (c *Coordinator) renew() (string, error) {
	cur := c.store.Current()
	if cur.RefreshToken == "" {
		c.log.Debug().Msg("No refresh token held, clearing session")
		c.store.Clear()
		return "", ErrRefreshFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	access, rotated, err := c.callRenewalEndpoint(ctx, cur.RefreshToken)
	if err != nil {
		c.log.Warn().Err(err).Msg("Token renewal failed, clearing session")
		c.store.Clear()
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	c.store.UpdateTokens(access, rotated)
	c.log.Debug().Msg("Access token renewed")
	return access, nil
}

// callRenewalEndpoint posts the refresh token and returns the new access
// token plus the rotated refresh token (empty when the server kept it)
func (c *Coordinator) callRenewalEndpoint(ctx context.Context, refreshToken string) (string, string, error) {
	jsonData, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/token/refresh", c.baseURL),
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("renewal rejected (status %d)", resp.StatusCode)
	}

	var renewResp refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&renewResp); err != nil {
		return "", "", fmt.Errorf("failed to decode response: %w", err)
	}

	if renewResp.Data.AccessToken == "" {
		return "", "", fmt.Errorf("renewal response missing access token")
	}

	return renewResp.Data.AccessToken, renewResp.Data.RefreshToken, nil
}
