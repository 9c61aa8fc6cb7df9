package session

import "time"

// User represents the identity of the logged-in user
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Session is the authoritative record of the current login state. It is a
// value type: every mutation replaces the whole record, readers never
// observe a partially-updated session.
type Session struct {
	User            *User
	AccessToken     string
	RefreshToken    string
	IsAuthenticated bool
	LoginTime       time.Time
	LastActivity    time.Time
}

// clone returns a deep copy so callers cannot alias the stored user record
func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// HasRole reports whether the session user carries the given role
func (s Session) HasRole(role string) bool {
	return s.User != nil && s.User.Role == role
}

// HasAnyRole reports whether the session user carries one of the given roles
func (s Session) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// UserEmail returns the session user's email, or empty when logged out
func (s Session) UserEmail() string {
	if s.User == nil {
		return ""
	}
	return s.User.Email
}
