package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event names mirror the identity provider's auth state change events.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

var (
	ErrNoRefreshToken = errors.New("session has no refresh token")
	ErrNoPendingOAuth = errors.New("no oauth sign-in in progress")
)

// User is the signed-in user as reported by the identity service.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is an issued session. AccessToken is the bearer credential used
// for task lookups.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// ExpiresWithin reports whether the access token expires within d of now.
// Sessions without an expiry never expire.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt <= 0 {
		return false
	}
	return now.Add(d).Unix() >= s.ExpiresAt
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User != nil {
		u := *s.User
		c.User = &u
	}
	return &c
}

// ChangeFunc receives session changes. session is nil after sign-out.
type ChangeFunc func(event Event, session *Session)

// Service is the identity provider as seen by the panel.
type Service interface {
	GetCurrentSession(ctx context.Context) (*Session, error)
	SubscribeToChanges(fn ChangeFunc) (unsubscribe func())
	SignUp(ctx context.Context, email, password string) error
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*Session, error)
	GetUser(ctx context.Context, accessToken string) (*User, error)
}

// ServiceError is a non-2xx answer from the identity service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "identity service error"
	}
	if e.Message == "" {
		return fmt.Sprintf("identity service status %d", e.Status)
	}
	return e.Message
}

// Unauthorized reports whether the service rejected the supplied credential.
func (e *ServiceError) Unauthorized() bool {
	return e != nil && (e.Status == 401 || e.Status == 403)
}
