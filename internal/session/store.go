package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/policy"
)

// Phase is the lifecycle of a Store: Uninitialized -> Resolving -> Ready.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseResolving
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseResolving:
		return "resolving"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

const SignUpConfirmationMessage = "Check your email for verification link!"

// State is a snapshot of the authentication state seen by one panel.
// Credential is only ever set while User is set.
type State struct {
	Phase      Phase
	User       *identity.User
	Credential string
}

// Resolving reports whether the initial session lookup has not settled yet.
func (s State) Resolving() bool { return s.Phase != PhaseReady }

func (s State) Authenticated() bool { return s.User != nil }

// Result is the outcome of a sign-up or sign-in attempt.
type Result struct {
	OK      bool
	Message string
}

type Options struct {
	OAuthProvider string
	RedirectURL   string
	Logger        *slog.Logger
}

// Store holds the authentication state for one panel mount. State only
// changes through the initial lookup and identity service notifications.
type Store struct {
	svc      identity.Service
	provider string
	redirect string
	logger   *slog.Logger

	initOnce sync.Once
	done     chan struct{}

	// notifyMu orders deliveries so listeners never see an older state last.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	pushed    bool
	closed    bool
	nextID    int
	listeners map[int]func(State)

	unsubscribe func()
}

// NewStore subscribes to identity changes immediately so that no
// notification issued during the initial lookup is lost.
func NewStore(svc identity.Service, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := strings.TrimSpace(opts.OAuthProvider)
	if provider == "" {
		provider = "google"
	}
	s := &Store{
		svc:       svc,
		provider:  provider,
		redirect:  strings.TrimSpace(opts.RedirectURL),
		logger:    logger.With("component", "session"),
		done:      make(chan struct{}),
		listeners: make(map[int]func(State)),
	}
	s.unsubscribe = svc.SubscribeToChanges(s.handleChange)
	return s
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Initialize looks up an existing session. Concurrent and repeated calls
// share the first call's lookup. A failed lookup settles as signed out.
func (s *Store) Initialize(ctx context.Context) State {
	s.initOnce.Do(func() {
		s.mu.Lock()
		s.state.Phase = PhaseResolving
		s.mu.Unlock()
		go s.resolve(context.WithoutCancel(ctx))
	})
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return s.State()
}

// Ready is closed once the initial lookup has settled.
func (s *Store) Ready() <-chan struct{} { return s.done }

func (s *Store) resolve(ctx context.Context) {
	current, err := s.svc.GetCurrentSession(ctx)
	if err != nil {
		s.logger.Warn("session lookup failed, continuing signed out", "error", err)
		current = nil
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	// A notification that arrived during the lookup is newer than its answer.
	if !s.pushed {
		s.state.User, s.state.Credential = fromSession(current)
	}
	s.state.Phase = PhaseReady
	snapshot := cloneState(s.state)
	fns := s.listenersLocked()
	s.mu.Unlock()

	close(s.done)
	notify(fns, snapshot)
}

// OnSessionChanged registers fn for every state change after the initial
// lookup settles. The returned disposer may be called more than once and fn
// is never called after it returns. It must not be called from within fn.
func (s *Store) OnSessionChanged(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextID++
	id := s.nextID
	l := &listener{fn: fn, alive: true}
	s.listeners[id] = l.call
	s.mu.Unlock()

	return func() {
		l.dispose()
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) SignUp(ctx context.Context, email, password string) Result {
	if err := validateCredentials(email, password); err != nil {
		return Result{Message: err.Error()}
	}
	if err := s.svc.SignUp(ctx, strings.TrimSpace(email), password); err != nil {
		s.logger.Info("sign up failed", "email", policy.RedactEmail(email), "error", err)
		return Result{Message: failureMessage(err, "Sign up failed")}
	}
	return Result{OK: true, Message: SignUpConfirmationMessage}
}

func (s *Store) SignIn(ctx context.Context, email, password string) Result {
	if err := validateCredentials(email, password); err != nil {
		return Result{Message: err.Error()}
	}
	if _, err := s.svc.SignInWithPassword(ctx, strings.TrimSpace(email), password); err != nil {
		s.logger.Info("sign in failed", "email", policy.RedactEmail(email), "error", err)
		return Result{Message: failureMessage(err, "Sign in failed")}
	}
	return Result{OK: true}
}

// SignOut asks the identity service to end the session. The local state
// follows through the SIGNED_OUT notification.
func (s *Store) SignOut(ctx context.Context) Result {
	if err := s.svc.SignOut(ctx); err != nil {
		s.logger.Warn("sign out failed", "error", err)
		return Result{Message: failureMessage(err, "Sign out failed")}
	}
	return Result{OK: true}
}

// SignInWithOAuth returns the provider URL the user must open.
func (s *Store) SignInWithOAuth(ctx context.Context) (string, Result) {
	target, err := s.svc.SignInWithOAuth(ctx, s.provider, s.redirect)
	if err != nil {
		s.logger.Warn("oauth start failed", "provider", s.provider, "error", err)
		return "", Result{Message: "Google login failed"}
	}
	return target, Result{OK: true}
}

// Close unsubscribes from the identity service and drops all listeners.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.listeners = make(map[int]func(State))
	s.mu.Unlock()
	s.unsubscribe()
}

func (s *Store) handleChange(event identity.Event, sess *identity.Session) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	user, credential := fromSession(sess)
	if sameIdentity(s.state, user, credential) {
		s.mu.Unlock()
		return
	}
	s.state.User, s.state.Credential = user, credential
	s.pushed = true
	// Before the lookup settles nobody may observe the change yet.
	if s.state.Phase != PhaseReady {
		s.mu.Unlock()
		return
	}
	snapshot := cloneState(s.state)
	fns := s.listenersLocked()
	s.mu.Unlock()

	s.logger.Debug("session changed", "event", string(event), "signed_in", user != nil)
	notify(fns, snapshot)
}

func (s *Store) listenersLocked() []func(State) {
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

type listener struct {
	mu    sync.Mutex
	alive bool
	fn    func(State)
}

func (l *listener) call(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.alive {
		return
	}
	l.fn(st)
}

func (l *listener) dispose() {
	l.mu.Lock()
	l.alive = false
	l.mu.Unlock()
}

func notify(fns []func(State), st State) {
	for _, fn := range fns {
		fn(cloneState(st))
	}
}

func fromSession(sess *identity.Session) (*identity.User, string) {
	if sess == nil || sess.User == nil {
		return nil, ""
	}
	u := *sess.User
	return &u, sess.AccessToken
}

func sameIdentity(st State, user *identity.User, credential string) bool {
	if (st.User == nil) != (user == nil) {
		return false
	}
	if user == nil {
		return true
	}
	return st.User.ID == user.ID && st.User.Email == user.Email && st.Credential == credential
}

func cloneState(st State) State {
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

func validateCredentials(email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return errors.New("Email and password are required")
	}
	return nil
}

// failureMessage prefers the identity service's own wording.
func failureMessage(err error, fallback string) string {
	var se *identity.ServiceError
	if errors.As(err, &se) && strings.TrimSpace(se.Message) != "" {
		return se.Message
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fallback + ": request cancelled"
	}
	return fallback + ": identity service unavailable"
}
