package identity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryService is an in-process identity provider for local development
// and tests. OAuth sign-in completes with any non-empty code.
type MemoryService struct {
	hub *hub

	mu        sync.Mutex
	passwords map[string]string
	users     map[string]*User
	tokens    map[string]*User
	current   *Session
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		hub:       newHub(),
		passwords: make(map[string]string),
		users:     make(map[string]*User),
		tokens:    make(map[string]*User),
	}
}

func (m *MemoryService) SubscribeToChanges(fn ChangeFunc) func() {
	return m.hub.subscribe(fn)
}

func (m *MemoryService) GetCurrentSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone(), nil
}

func (m *MemoryService) SignUp(_ context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 6 {
		return &ServiceError{Status: http.StatusUnprocessableEntity, Message: "Password should be at least 6 characters"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.passwords[email]; exists {
		return &ServiceError{Status: http.StatusUnprocessableEntity, Message: "User already registered"}
	}
	m.passwords[email] = password
	m.users[email] = &User{ID: uuid.NewString(), Email: email}
	return nil
}

func (m *MemoryService) SignInWithPassword(_ context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.Lock()
	stored, ok := m.passwords[email]
	if !ok || stored != password {
		m.mu.Unlock()
		return nil, &ServiceError{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
	}
	s := m.issueLocked(m.users[email])
	m.mu.Unlock()

	m.hub.emit(EventSignedIn, s)
	return s.clone(), nil
}

func (m *MemoryService) SignOut(_ context.Context) error {
	m.mu.Lock()
	if m.current != nil {
		delete(m.tokens, m.current.AccessToken)
	}
	m.current = nil
	m.mu.Unlock()

	m.hub.emit(EventSignedOut, nil)
	return nil
}

func (m *MemoryService) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	if strings.TrimSpace(provider) == "" {
		return "", errors.New("oauth provider is required")
	}
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return "memory://authorize?" + q.Encode(), nil
}

func (m *MemoryService) ExchangeCodeForSession(_ context.Context, code string) (*Session, error) {
	if strings.TrimSpace(code) == "" {
		return nil, ErrNoPendingOAuth
	}
	email := "oauth-user@example.com"
	m.mu.Lock()
	u, ok := m.users[email]
	if !ok {
		u = &User{ID: uuid.NewString(), Email: email}
		m.users[email] = u
	}
	s := m.issueLocked(u)
	m.mu.Unlock()

	m.hub.emit(EventSignedIn, s)
	return s.clone(), nil
}

func (m *MemoryService) GetUser(_ context.Context, accessToken string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.tokens[accessToken]
	if !ok {
		return nil, &ServiceError{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	}
	c := *u
	return &c, nil
}

func (m *MemoryService) issueLocked(u *User) *Session {
	token := "mem-" + uuid.NewString()
	m.tokens[token] = u
	user := *u
	s := &Session{
		AccessToken:  token,
		RefreshToken: "mem-refresh-" + uuid.NewString(),
		TokenType:    "bearer",
		ExpiresIn:    3600,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         &user,
	}
	m.current = s
	return s.clone()
}
