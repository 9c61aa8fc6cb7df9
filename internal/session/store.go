package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SessionKey is the storage key for the persisted session snapshot
const SessionKey = "task-manager"

// DefaultTimeout is the inactivity window after which a persisted session
// snapshot is considered stale and discarded on restore
const DefaultTimeout = 30 * time.Minute

// snapshot is the durable form of a session. Tokens are deliberately absent:
// a restored session always requires re-authentication.
type snapshot struct {
	User         *User     `json:"user"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
}

// Store owns the single current session. All mutations serialize on one
// mutex and replace the record wholesale; subscribers observe every
// committed value in order.
type Store struct {
	mu      sync.RWMutex
	session Session
	subs    map[uint64]*subscriber
	nextSub uint64

	storage Storage
	timeout time.Duration
	log     zerolog.Logger
}

// NewStore creates a session store backed by the given storage. A snapshot
// persisted by a previous process is restored if its last activity falls
// within timeout; restored sessions are never authenticated.
func NewStore(storage Storage, timeout time.Duration, log zerolog.Logger) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	st := &Store{
		subs:    make(map[uint64]*subscriber),
		storage: storage,
		timeout: timeout,
		log:     log,
	}
	st.restore()
	return st
}

// Current returns the latest session value. Never blocks on I/O.
func (st *Store) Current() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.session.clone()
}

// IsAuthenticated reports whether a login with an access token is active
func (st *Store) IsAuthenticated() bool {
	cur := st.Current()
	return cur.IsAuthenticated && cur.AccessToken != ""
}

// TimeRemaining returns how long until the session goes stale from inactivity
func (st *Store) TimeRemaining() time.Duration {
	cur := st.Current()
	if cur.LastActivity.IsZero() {
		return 0
	}
	remaining := st.timeout - time.Since(cur.LastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetSession atomically replaces the whole session record
func (st *Store) SetSession(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.commit(s.clone())
}

// UpdateUser merges the non-empty fields of patch into the current user.
// It is a no-op while logged out.
func (st *Store) UpdateUser(patch User) {
	st.mu.Lock()
	defer st.mu.Unlock()

	cur := st.session.clone()
	if cur.User == nil {
		return
	}

	if patch.ID != "" {
		cur.User.ID = patch.ID
	}
	if patch.Email != "" {
		cur.User.Email = patch.Email
	}
	if patch.Name != "" {
		cur.User.Name = patch.Name
	}
	if patch.Role != "" {
		cur.User.Role = patch.Role
	}
	if patch.Avatar != "" {
		cur.User.Avatar = patch.Avatar
	}
	cur.LastActivity = time.Now()
	st.commit(cur)
}

// UpdateTokens replaces the access token and, when refresh is non-empty,
// the refresh token. The rest of the record is carried forward.
func (st *Store) UpdateTokens(access, refresh string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	cur := st.session.clone()
	cur.AccessToken = access
	if refresh != "" {
		cur.RefreshToken = refresh
	}
	cur.LastActivity = time.Now()
	st.commit(cur)
}

// UpdateActivity stamps the session's last-activity time
func (st *Store) UpdateActivity() {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.session.IsAuthenticated {
		return
	}
	cur := st.session.clone()
	cur.LastActivity = time.Now()
	st.commit(cur)
}

// Clear resets the session to the empty record and erases the persisted
// snapshot. Subscribers observe the empty value.
func (st *Store) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.commit(Session{})
	if err := st.storage.Remove(SessionKey); err != nil {
		st.log.Warn().Err(err).Msg("Failed to remove persisted session")
	}
}

// Subscribe returns a channel that first replays the current session value,
// then delivers every subsequent committed value in order. The channel is
// closed when ctx is cancelled; cancelling detaches only this subscriber.
func (st *Store) Subscribe(ctx context.Context) <-chan Session {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Session),
	}

	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	st.subs[id] = sub
	// Replay under the store lock so no commit can slip in ahead of it
	sub.push(st.session.clone())
	st.mu.Unlock()

	go st.forward(ctx, id, sub)
	return sub.out
}

// commit installs the next session value, persists it, and fans it out.
// Callers must hold st.mu.
func (st *Store) commit(next Session) {
	if next.User == nil {
		// A session without an identity is never authenticated
		next.IsAuthenticated = false
	}
	st.session = next

	if next.IsAuthenticated {
		st.persist(next)
	}

	for _, sub := range st.subs {
		sub.push(next.clone())
	}
}

// persist writes the token-free snapshot. Tokens never reach durable storage.
func (st *Store) persist(s Session) {
	data, err := json.Marshal(snapshot{
		User:         s.User,
		LoginTime:    s.LoginTime,
		LastActivity: s.LastActivity,
	})
	if err != nil {
		st.log.Warn().Err(err).Msg("Failed to serialize session snapshot")
		return
	}
	if err := st.storage.Set(SessionKey, string(data)); err != nil {
		st.log.Warn().Err(err).Msg("Failed to persist session snapshot")
	}
}

// restore loads the persisted snapshot, discarding it when stale. The
// restored session is never authenticated and carries no tokens.
func (st *Store) restore() {
	raw, err := st.storage.Get(SessionKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			st.log.Warn().Err(err).Msg("Failed to read persisted session")
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		st.log.Warn().Err(err).Msg("Discarding corrupt session snapshot")
		_ = st.storage.Remove(SessionKey)
		return
	}

	if snap.LastActivity.IsZero() || time.Since(snap.LastActivity) > st.timeout {
		_ = st.storage.Remove(SessionKey)
		return
	}

	st.session = Session{
		User:            snap.User,
		IsAuthenticated: false,
		LoginTime:       snap.LoginTime,
		LastActivity:    snap.LastActivity,
	}
}

// subscriber buffers committed values so a slow consumer never blocks the
// store or other subscribers
type subscriber struct {
	mu    sync.Mutex
	queue []Session
	wake  chan struct{}
	out   chan Session
}

func (sub *subscriber) push(s Session) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, s)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// forward drains the subscriber queue into its channel until ctx is done
func (st *Store) forward(ctx context.Context, id uint64, sub *subscriber) {
	defer func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
		close(sub.out)
	}()

	for {
		sub.mu.Lock()
		pending := sub.queue
		sub.queue = nil
		sub.mu.Unlock()

		for _, s := range pending {
			select {
			case sub.out <- s:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-sub.wake:
		case <-ctx.Done():
			return
		}
	}
}
