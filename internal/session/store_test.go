package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshmpotenz/SideBar/internal/identity"
)

// gatedService wraps a MemoryService and holds GetCurrentSession until
// release is closed.
type gatedService struct {
	*identity.MemoryService
	release chan struct{}
	lookups atomic.Int32
	err     error
}

func newGatedService() *gatedService {
	return &gatedService{MemoryService: identity.NewMemoryService(), release: make(chan struct{})}
}

func (g *gatedService) GetCurrentSession(ctx context.Context) (*identity.Session, error) {
	g.lookups.Add(1)
	<-g.release
	if g.err != nil {
		return nil, g.err
	}
	return g.MemoryService.GetCurrentSession(ctx)
}

func TestInitializeResolvesExactlyOnceUnderConcurrency(t *testing.T) {
	svc := newGatedService()
	store := NewStore(svc, Options{})
	defer store.Close()

	var readyTransitions atomic.Int32
	var sawResolvingAfterReady atomic.Bool
	var ready atomic.Bool
	dispose := store.OnSessionChanged(func(st State) {
		if st.Resolving() {
			if ready.Load() {
				sawResolvingAfterReady.Store(true)
			}
			return
		}
		if ready.CompareAndSwap(false, true) {
			readyTransitions.Add(1)
		}
	})
	defer dispose()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := store.Initialize(context.Background())
			assert.False(t, st.Resolving())
		}()
	}
	require.Eventually(t, func() bool { return svc.lookups.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, store.State().Resolving())
	close(svc.release)
	wg.Wait()

	store.Initialize(context.Background())
	assert.Equal(t, int32(1), svc.lookups.Load())
	assert.Equal(t, int32(1), readyTransitions.Load())
	assert.False(t, sawResolvingAfterReady.Load())
	assert.False(t, store.State().Resolving())
}

func TestInitializeFailsOpenToSignedOut(t *testing.T) {
	svc := newGatedService()
	svc.err = errors.New("dial tcp: connection refused")
	close(svc.release)
	store := NewStore(svc, Options{})
	defer store.Close()

	st := store.Initialize(context.Background())
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Nil(t, st.User)
	assert.Empty(t, st.Credential)
}

func TestInitializePicksUpExistingSession(t *testing.T) {
	svc := identity.NewMemoryService()
	require.NoError(t, svc.SignUp(context.Background(), "sam@example.com", "hunter22"))
	sess, err := svc.SignInWithPassword(context.Background(), "sam@example.com", "hunter22")
	require.NoError(t, err)

	store := NewStore(svc, Options{})
	defer store.Close()
	st := store.Initialize(context.Background())
	require.True(t, st.Authenticated())
	assert.Equal(t, sess.AccessToken, st.Credential)
}

func TestNotificationDuringLookupWins(t *testing.T) {
	svc := newGatedService()
	require.NoError(t, svc.SignUp(context.Background(), "sam@example.com", "hunter22"))
	store := NewStore(svc, Options{})
	defer store.Close()

	done := make(chan State)
	go func() { done <- store.Initialize(context.Background()) }()
	require.Eventually(t, func() bool { return svc.lookups.Load() == 1 }, time.Second, time.Millisecond)

	res := store.SignIn(context.Background(), "sam@example.com", "hunter22")
	require.True(t, res.OK)
	assert.True(t, store.State().Resolving(), "push must not end resolving early")

	// The lookup itself now also sees the session; the push already set it.
	close(svc.release)
	st := <-done
	assert.True(t, st.Authenticated())
}

func TestSignInChangesStateOnlyThroughNotification(t *testing.T) {
	svc := identity.NewMemoryService()
	require.NoError(t, svc.SignUp(context.Background(), "sam@example.com", "hunter22"))
	store := NewStore(svc, Options{})
	defer store.Close()
	store.Initialize(context.Background())

	var got []State
	dispose := store.OnSessionChanged(func(st State) { got = append(got, st) })
	defer dispose()

	res := store.SignIn(context.Background(), "sam@example.com", "wrong")
	assert.False(t, res.OK)
	assert.Equal(t, "Invalid login credentials", res.Message)
	assert.Empty(t, got)

	res = store.SignIn(context.Background(), "sam@example.com", "hunter22")
	require.True(t, res.OK)
	require.Len(t, got, 1)
	assert.Equal(t, "sam@example.com", got[0].User.Email)
	assert.NotEmpty(t, got[0].Credential)

	res = store.SignOut(context.Background())
	require.True(t, res.OK)
	require.Len(t, got, 2)
	assert.False(t, got[1].Authenticated())
	assert.Empty(t, got[1].Credential)
}

func TestSignUpReportsConfirmation(t *testing.T) {
	store := NewStore(identity.NewMemoryService(), Options{})
	defer store.Close()

	res := store.SignUp(context.Background(), "sam@example.com", "hunter22")
	assert.Equal(t, Result{OK: true, Message: SignUpConfirmationMessage}, res)

	res = store.SignUp(context.Background(), "sam@example.com", "hunter22")
	assert.False(t, res.OK)
	assert.Equal(t, "User already registered", res.Message)

	res = store.SignUp(context.Background(), "", "")
	assert.False(t, res.OK)
	assert.Equal(t, "Email and password are required", res.Message)
}

func TestDisposedListenerIsNeverCalled(t *testing.T) {
	svc := identity.NewMemoryService()
	require.NoError(t, svc.SignUp(context.Background(), "sam@example.com", "hunter22"))
	store := NewStore(svc, Options{})
	defer store.Close()
	store.Initialize(context.Background())

	calls := 0
	dispose := store.OnSessionChanged(func(State) { calls++ })
	dispose()
	dispose()

	store.SignIn(context.Background(), "sam@example.com", "hunter22")
	assert.Equal(t, 0, calls)
}

func TestCloseStopsNotifications(t *testing.T) {
	svc := identity.NewMemoryService()
	require.NoError(t, svc.SignUp(context.Background(), "sam@example.com", "hunter22"))
	store := NewStore(svc, Options{})
	store.Initialize(context.Background())

	calls := 0
	store.OnSessionChanged(func(State) { calls++ })
	store.Close()
	store.Close()

	_, err := svc.SignInWithPassword(context.Background(), "sam@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.False(t, store.State().Authenticated())
}

func TestSignInWithOAuthUsesConfiguredRedirect(t *testing.T) {
	store := NewStore(identity.NewMemoryService(), Options{RedirectURL: "chrome-extension://abc/panel.html"})
	defer store.Close()

	target, res := store.SignInWithOAuth(context.Background())
	require.True(t, res.OK)
	assert.Contains(t, target, "provider=google")
	assert.Contains(t, target, "redirect_to=chrome-extension")
}
