package identity

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/harshmpotenz/SideBar/internal/policy"
)

const defaultRefreshMargin = 60 * time.Second

// ClientConfig configures a GoTrue-compatible identity client.
type ClientConfig struct {
	BaseURL       string
	AnonKey       string
	Store         *FileStore
	HTTPClient    *http.Client
	Logger        *slog.Logger
	RefreshMargin time.Duration
}

// Client talks to a GoTrue (Supabase Auth) REST API and keeps the current
// session in memory and, when a FileStore is configured, on disk.
type Client struct {
	baseURL       string
	anonKey       string
	store         *FileStore
	http          *http.Client
	logger        *slog.Logger
	refreshMargin time.Duration
	now           func() time.Time
	hub           *hub

	mu              sync.Mutex
	current         *Session
	loaded          bool
	pendingVerifier string

	refreshMu sync.Mutex
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		anonKey:       strings.TrimSpace(cfg.AnonKey),
		store:         cfg.Store,
		http:          httpClient,
		logger:        logger.With("component", "identity"),
		refreshMargin: margin,
		now:           time.Now,
		hub:           newHub(),
	}
}

func (c *Client) SubscribeToChanges(fn ChangeFunc) func() {
	return c.hub.subscribe(fn)
}

// GetCurrentSession returns the stored session, refreshing it first when it
// is about to expire. A missing session is (nil, nil).
func (c *Client) GetCurrentSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if !c.loaded {
		if c.store != nil {
			s, err := c.store.Load()
			if err != nil {
				c.mu.Unlock()
				return nil, err
			}
			c.current = s
		}
		c.loaded = true
	}
	current := c.current.clone()
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}
	if current.ExpiresWithin(c.now(), c.refreshMargin) {
		return c.refresh(ctx, current)
	}
	return current, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) error {
	var res sessionResponse
	err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", credentialsBody{Email: email, Password: password}, &res)
	if err != nil {
		return err
	}
	// Projects with auto-confirm answer with a live session.
	if s := res.session(c.now()); s != nil {
		c.setSession(s, EventSignedIn)
	}
	c.logger.Info("sign up requested", "email", policy.RedactEmail(email))
	return nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var res sessionResponse
	q := url.Values{"grant_type": {"password"}}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", credentialsBody{Email: email, Password: password}, &res); err != nil {
		return nil, err
	}
	s := res.session(c.now())
	if s == nil {
		return nil, errors.New("identity service returned no session")
	}
	c.setSession(s, EventSignedIn)
	c.logger.Info("signed in", "email", policy.RedactEmail(email))
	return s.clone(), nil
}

// SignOut revokes the remote session and always clears the local one.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := c.current.clone()
	c.mu.Unlock()

	var remoteErr error
	if current != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, current.AccessToken, nil, nil)
		var se *ServiceError
		if errors.As(remoteErr, &se) && (se.Unauthorized() || se.Status == http.StatusNotFound) {
			// The token is already dead remotely.
			remoteErr = nil
		}
	}
	c.setSession(nil, EventSignedOut)
	return remoteErr
}

// SignInWithOAuth starts a PKCE sign-in and returns the provider URL the
// user must open. The flow completes in ExchangeCodeForSession.
func (c *Client) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", errors.New("oauth provider is required")
	}
	verifier, err := newCodeVerifier()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.pendingVerifier = verifier
	c.mu.Unlock()

	q := url.Values{
		"provider":              {provider},
		"code_challenge":        {codeChallenge(verifier)},
		"code_challenge_method": {"s256"},
	}
	if redirectTo = strings.TrimSpace(redirectTo); redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.baseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	c.mu.Lock()
	verifier := c.pendingVerifier
	c.mu.Unlock()
	if verifier == "" {
		return nil, ErrNoPendingOAuth
	}

	var res sessionResponse
	q := url.Values{"grant_type": {"pkce"}}
	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", body, &res); err != nil {
		return nil, err
	}
	s := res.session(c.now())
	if s == nil {
		return nil, errors.New("identity service returned no session")
	}
	c.mu.Lock()
	c.pendingVerifier = ""
	c.mu.Unlock()
	c.setSession(s, EventSignedIn)
	return s.clone(), nil
}

func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, &ServiceError{Status: http.StatusUnauthorized, Message: "missing access token"}
	}
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) refresh(ctx context.Context, stale *Session) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	c.mu.Lock()
	current := c.current.clone()
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	if current.AccessToken != stale.AccessToken && !current.ExpiresWithin(c.now(), c.refreshMargin) {
		return current, nil
	}
	if current.RefreshToken == "" {
		c.setSession(nil, EventSignedOut)
		return nil, ErrNoRefreshToken
	}

	var res sessionResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", map[string]string{"refresh_token": current.RefreshToken}, &res)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
			c.logger.Warn("refresh token rejected, signing out", "status", se.Status)
			c.setSession(nil, EventSignedOut)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	s := res.session(c.now())
	if s == nil {
		return nil, errors.New("identity service returned no session")
	}
	c.setSession(s, EventTokenRefreshed)
	return s.clone(), nil
}

func (c *Client) setSession(s *Session, event Event) {
	c.mu.Lock()
	c.current = s.clone()
	c.loaded = true
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(s); err != nil {
			c.logger.Warn("persist session failed", "error", err)
		}
	}
	c.hub.emit(event, s)
}

// adopt installs a session written by another process without persisting it
// again. It returns false when nothing changed.
func (c *Client) adopt(s *Session) bool {
	c.mu.Lock()
	prev := c.current
	same := (prev == nil && s == nil) ||
		(prev != nil && s != nil && prev.AccessToken == s.AccessToken)
	if same {
		c.mu.Unlock()
		return false
	}
	c.current = s.clone()
	c.loaded = true
	c.mu.Unlock()

	switch {
	case s == nil:
		c.hub.emit(EventSignedOut, nil)
	case prev == nil:
		c.hub.emit(EventSignedIn, s)
	default:
		c.hub.emit(EventTokenRefreshed, s)
	}
	return true
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

func (r sessionResponse) session(now time.Time) *Session {
	if r.AccessToken == "" {
		return nil
	}
	expiresAt := r.ExpiresAt
	if expiresAt == 0 && r.ExpiresIn > 0 {
		expiresAt = now.Unix() + r.ExpiresIn
	}
	return &Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresIn:    r.ExpiresIn,
		ExpiresAt:    expiresAt,
		User:         r.User,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read identity response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &ServiceError{Status: res.StatusCode, Message: serviceMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode identity response: %w", err)
	}
	return nil
}

// serviceMessage extracts the human readable part of a GoTrue error body.
func serviceMessage(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, k := range []string{"error_description", "msg", "message", "error"} {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func newCodeVerifier() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
