// Package guard gates entry into protected application regions based on the
// current session and token freshness.
package guard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskdeck-dev/taskdeck/internal/session"
	"github.com/taskdeck-dev/taskdeck/internal/token"
)

// Refresher renews the access token; all concurrent callers share one renewal
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// LoginRoute is the unauthenticated entry point denied callers are sent to
const LoginRoute = "/login"

// Decision is the outcome of a guard check
type Decision struct {
	Allowed  bool
	Redirect string // Set to the login route when entry is denied
}

func deny() Decision {
	return Decision{Redirect: LoginRoute}
}

func allow() Decision {
	return Decision{Allowed: true}
}

// Guard evaluates whether the current session may enter a protected region.
// A check that finds a stale token blocks on the refresh coordinator and
// grants entry only once the renewal has settled successfully.
type Guard struct {
	store     *session.Store
	refresher Refresher
	skew      time.Duration
	log       zerolog.Logger
}

// New creates a Guard. skew is the forward-looking token expiry buffer.
func New(store *session.Store, refresher Refresher, skew time.Duration, log zerolog.Logger) *Guard {
	if skew <= 0 {
		skew = token.DefaultSkew
	}
	return &Guard{
		store:     store,
		refresher: refresher,
		skew:      skew,
		log:       log,
	}
}

// Check evaluates entry into a protected region
func (g *Guard) Check(ctx context.Context) Decision {
	cur := g.store.Current()

	if !cur.IsAuthenticated {
		g.log.Debug().Msg("Guard: not authenticated")
		return deny()
	}

	if cur.AccessToken == "" {
		g.log.Debug().Msg("Guard: authenticated session without access token")
		g.store.Clear()
		return deny()
	}

	if token.IsExpired(cur.AccessToken, g.skew) {
		g.log.Debug().Msg("Guard: access token stale, renewing")
		if _, err := g.refresher.Refresh(ctx); err != nil {
			// Session already cleared by the coordinator
			g.log.Debug().Err(err).Msg("Guard: renewal failed")
			return deny()
		}
	}

	return allow()
}
