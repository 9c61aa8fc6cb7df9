package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck-dev/taskdeck/internal/api"
	"github.com/taskdeck-dev/taskdeck/internal/auth"
	"github.com/taskdeck-dev/taskdeck/internal/guard"
	"github.com/taskdeck-dev/taskdeck/internal/refresh"
	"github.com/taskdeck-dev/taskdeck/internal/session"
	"github.com/taskdeck-dev/taskdeck/internal/taskcache"
	"github.com/taskdeck-dev/taskdeck/internal/token"
	"github.com/taskdeck-dev/taskdeck/internal/transport"
)

// mintToken creates a signed test token with the given lifetime
func mintToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()

	claims := token.Claims{
		UserID: "user-1",
		Email:  "a@b.com",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

// fakeAPI is a minimal tasks/users API that accepts exactly one token at a
// time and can invalidate it to force the refresh path
type fakeAPI struct {
	t            *testing.T
	validToken   atomic.Value // string
	refreshCalls int64
	nextToken    func() string
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/"):
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]string{"id": "user-1", "email": "a@b.com"},
			})

		case r.Method == http.MethodPost && r.URL.Path == "/users":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			issued := f.nextToken()
			f.validToken.Store(issued)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"user":   map[string]string{"id": "user-1", "email": body["email"]},
					"tokens": map[string]string{"accessToken": issued, "refreshToken": "R1"},
				},
			})

		case r.Method == http.MethodPost && r.URL.Path == "/token/refresh":
			atomic.AddInt64(&f.refreshCalls, 1)
			issued := f.nextToken()
			f.validToken.Store(issued)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]string{"accessToken": issued},
			})

		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/tasks/"):
			valid, _ := f.validToken.Load().(string)
			if r.Header.Get("Authorization") != "Bearer "+valid {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var patch map[string]string
			json.NewDecoder(r.Body).Decode(&patch)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"id":       strings.TrimPrefix(r.URL.Path, "/tasks/"),
					"title":    patch["title"],
					"isActive": true,
				},
			})

		case strings.HasPrefix(r.URL.Path, "/tasks/"):
			valid, _ := f.validToken.Load().(string)
			if r.Header.Get("Authorization") != "Bearer "+valid {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": "task-1", "title": "buy milk", "isActive": true},
					{"id": "task-2", "title": "old chore", "isActive": false},
				},
			})

		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// syncBuffer is a bytes.Buffer safe for concurrent writers: the session
// watcher goroutine and the command under test share it
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestApp wires a full App against the fake API, with scripted input
func newTestApp(t *testing.T, srv *httptest.Server, input string) (*App, *syncBuffer) {
	t.Helper()

	log := zerolog.Nop()
	store := session.NewStore(session.NoopStorage{}, session.DefaultTimeout, log)
	coordinator := refresh.New(srv.URL, store, srv.Client(), refresh.DefaultTimeout, log)
	authedClient := &http.Client{Transport: transport.New(srv.Client().Transport, store, coordinator, log)}
	apiClient := api.New(srv.URL, authedClient)

	var out syncBuffer
	return &App{
		log:      log,
		store:    store,
		api:      apiClient,
		auth:     auth.New(apiClient, store, log),
		guard:    guard.New(store, coordinator, token.DefaultSkew, log),
		reader:   bufio.NewReader(strings.NewReader(input)),
		out:      &out,
		validate: validator.New(),
	}, &out
}

func TestLoginThenListThenExpiry(t *testing.T) {
	tokens := []string{mintToken(t, time.Hour), mintToken(t, time.Hour)}
	var issued int64
	f := &fakeAPI{t: t, nextToken: func() string {
		return tokens[atomic.AddInt64(&issued, 1)-1]
	}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, out := newTestApp(t, srv, "")
	ctx := context.Background()

	require.NoError(t, app.Login(ctx, "a@b.com"))
	require.True(t, app.isLoggedIn())
	require.Equal(t, tokens[0], app.store.Current().AccessToken)

	// Guard allows entry with the fresh token, list succeeds
	require.NoError(t, app.List(ctx))
	require.Contains(t, out.String(), "buy milk")
	require.EqualValues(t, 0, atomic.LoadInt64(&f.refreshCalls))

	// Server stops honoring the first token; the next list goes through
	// one refresh-and-retry cycle transparently
	f.validToken.Store("revoked")
	require.NoError(t, app.List(ctx))
	require.EqualValues(t, 1, atomic.LoadInt64(&f.refreshCalls))
	require.Equal(t, tokens[1], app.store.Current().AccessToken)
}

func TestGuardRenewsExpiredTokenBeforeEntry(t *testing.T) {
	fresh := mintToken(t, time.Hour)
	f := &fakeAPI{t: t, nextToken: func() string { return fresh }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, _ := newTestApp(t, srv, "")
	ctx := context.Background()

	// A session whose token is inside the expiry skew
	now := time.Now()
	app.store.SetSession(session.Session{
		User:            &session.User{ID: "user-1", Email: "a@b.com"},
		AccessToken:     mintToken(t, time.Minute),
		RefreshToken:    "R1",
		IsAuthenticated: true,
		LoginTime:       now,
		LastActivity:    now,
	})

	require.NoError(t, app.List(ctx))
	require.EqualValues(t, 1, atomic.LoadInt64(&f.refreshCalls), "guard renews before the request goes out")
	require.Equal(t, fresh, app.store.Current().AccessToken)
}

func TestTaskCommandsRequireLogin(t *testing.T) {
	f := &fakeAPI{t: t, nextToken: func() string { return "unused" }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, _ := newTestApp(t, srv, "")
	ctx := context.Background()

	require.ErrorIs(t, app.List(ctx), errNotAuthenticated)
	require.ErrorIs(t, app.Add(ctx, "title", ""), errNotAuthenticated)
	require.ErrorIs(t, app.Complete(ctx, "task-1"), errNotAuthenticated)
	require.ErrorIs(t, app.Delete(ctx, "task-1"), errNotAuthenticated)
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	f := &fakeAPI{t: t, nextToken: func() string { return "unused" }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, _ := newTestApp(t, srv, "")

	err := app.Login(context.Background(), "not-an-email")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a valid email address")
}

func TestEditTaskUpdatesTitle(t *testing.T) {
	fresh := mintToken(t, time.Hour)
	f := &fakeAPI{t: t, nextToken: func() string { return fresh }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, out := newTestApp(t, srv, "")
	ctx := context.Background()

	require.NoError(t, app.Login(ctx, "a@b.com"))
	require.NoError(t, app.Edit(ctx, "task-1", "milk", "get oat milk"))
	require.Contains(t, out.String(), "Updated task task-1")

	require.Error(t, app.Edit(ctx, "task-1", "", ""), "title is required")
}

func TestListHidesInactiveTasks(t *testing.T) {
	fresh := mintToken(t, time.Hour)
	f := &fakeAPI{t: t, nextToken: func() string { return fresh }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, out := newTestApp(t, srv, "")
	ctx := context.Background()

	require.NoError(t, app.Login(ctx, "a@b.com"))
	require.NoError(t, app.List(ctx))

	require.Contains(t, out.String(), "buy milk")
	require.NotContains(t, out.String(), "old chore", "deactivated tasks stay hidden")
}

func TestListFallsBackToCacheWhenOffline(t *testing.T) {
	fresh := mintToken(t, time.Hour)
	f := &fakeAPI{t: t, nextToken: func() string { return fresh }}
	srv := httptest.NewServer(f.handler())

	app, out := newTestApp(t, srv, "")
	ctx := context.Background()

	cache, err := taskcache.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	app.cache = cache

	require.NoError(t, app.Login(ctx, "a@b.com"))
	require.NoError(t, app.List(ctx), "online list primes the cache")

	srv.Close()
	require.NoError(t, app.List(ctx))
	require.Contains(t, out.String(), "offline: showing tasks cached")
	require.Equal(t, 2, strings.Count(out.String(), "buy milk"), "cached list repeats the online one")
}

func TestLogoutPurgesTaskCache(t *testing.T) {
	fresh := mintToken(t, time.Hour)
	f := &fakeAPI{t: t, nextToken: func() string { return fresh }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, _ := newTestApp(t, srv, "")
	ctx := context.Background()

	cache, err := taskcache.Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	app.cache = cache

	require.NoError(t, app.Login(ctx, "a@b.com"))
	require.NoError(t, app.List(ctx))

	cached, err := cache.Tasks(ctx, "a@b.com")
	require.NoError(t, err)
	require.NotEmpty(t, cached)

	require.NoError(t, app.Logout(ctx))
	require.False(t, app.isLoggedIn())

	cached, err = cache.Tasks(ctx, "a@b.com")
	require.NoError(t, err)
	require.Empty(t, cached, "logout drops the user's cached tasks")
}

func TestLoginOffersRegistrationDecline(t *testing.T) {
	f := &fakeAPI{t: t, nextToken: func() string { return "unused" }}
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.handler().ServeHTTP(w, r)
	}))
	defer notFound.Close()

	app, _ := newTestApp(t, notFound, "n\n")

	require.NoError(t, app.Login(context.Background(), "new@b.com"))
	require.False(t, app.isLoggedIn(), "declined registration leaves the user logged out")
}

func TestShellSharesInputWithConfirmPrompts(t *testing.T) {
	fresh := mintToken(t, time.Hour)
	f := &fakeAPI{t: t, nextToken: func() string { return fresh }}
	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.handler().ServeHTTP(w, r)
	}))
	defer notFound.Close()

	// The "y" lands on the registration confirm prompt, not the shell loop:
	// both read from the one shared reader, exactly as Run wires stdin
	app, out := newTestApp(t, notFound, "login new@b.com\ny\nexit\n")
	require.NoError(t, runShell(context.Background(), app, app.prompt, app.reader, app.out))

	require.True(t, app.isLoggedIn(), "confirming registration logs the user in")
	require.Contains(t, out.String(), "Logged in as new@b.com")
	require.NotContains(t, out.String(), "unknown command")
	require.NotContains(t, out.String(), "Error:")
}

func TestWatchSessionAnnouncesTeardown(t *testing.T) {
	f := &fakeAPI{t: t, nextToken: func() string { return mintToken(t, time.Hour) }}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	app, out := newTestApp(t, srv, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		app.watchSession(ctx)
		close(done)
	}()

	require.NoError(t, app.Login(ctx, "a@b.com"))
	app.store.Clear()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Session expired")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
