package taskfetch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pendingCall struct {
	taskID     string
	credential string
	result     chan fetchResult
}

type fetchResult struct {
	data json.RawMessage
	err  error
}

// manualFetcher parks every call until the test resolves it.
type manualFetcher struct {
	calls chan *pendingCall
}

func newManualFetcher() *manualFetcher {
	return &manualFetcher{calls: make(chan *pendingCall, 16)}
}

func (m *manualFetcher) Fetch(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
	call := &pendingCall{taskID: taskID, credential: credential, result: make(chan fetchResult, 1)}
	m.calls <- call
	r := <-call.result
	return r.data, r.err
}

func (m *manualFetcher) next(t *testing.T) *pendingCall {
	t.Helper()
	select {
	case call := <-m.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fetch call")
		return nil
	}
}

func (m *manualFetcher) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case call := <-m.calls:
		t.Fatalf("unexpected fetch for %q", call.taskID)
	case <-time.After(20 * time.Millisecond):
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) kinds() []Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Kind, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s.Kind)
	}
	return out
}

func TestControllerStartsIdle(t *testing.T) {
	c := NewController(newManualFetcher(), nil, Options{})
	defer c.Close()
	assert.Equal(t, KindIdle, c.State().Kind)
}

func TestControllerLoadsTask(t *testing.T) {
	f := newManualFetcher()
	log := &stateLog{}
	c := NewController(f, log.record, Options{})
	defer c.Close()

	c.Update("abc123", "tok")
	assert.Equal(t, State{Kind: KindLoading, TaskID: "abc123"}, c.State())

	call := f.next(t)
	assert.Equal(t, "abc123", call.taskID)
	assert.Equal(t, "tok", call.credential)
	call.result <- fetchResult{data: json.RawMessage(`{"id":"abc123","name":"Test"}`)}

	require.Eventually(t, func() bool { return c.State().Kind == KindLoaded }, time.Second, time.Millisecond)
	assert.JSONEq(t, `{"id":"abc123","name":"Test"}`, string(c.State().Data))
	assert.Equal(t, []Kind{KindLoading, KindLoaded}, log.kinds())
}

func TestControllerLatestRequestWins(t *testing.T) {
	f := newManualFetcher()
	log := &stateLog{}
	c := NewController(f, log.record, Options{})
	defer c.Close()

	c.Update("task-a", "tok")
	callA := f.next(t)
	c.Update("task-b", "tok")
	callB := f.next(t)

	callB.result <- fetchResult{data: json.RawMessage(`{"id":"task-b"}`)}
	require.Eventually(t, func() bool { return c.State().Kind == KindLoaded }, time.Second, time.Millisecond)

	callA.result <- fetchResult{data: json.RawMessage(`{"id":"task-a"}`)}
	// Give the stale goroutine time to finish before asserting.
	time.Sleep(20 * time.Millisecond)

	st := c.State()
	assert.Equal(t, "task-b", st.TaskID)
	assert.JSONEq(t, `{"id":"task-b"}`, string(st.Data))
	assert.Equal(t, []Kind{KindLoading, KindLoading, KindLoaded}, log.kinds())
}

func TestControllerStaleFailureIsDropped(t *testing.T) {
	f := newManualFetcher()
	c := NewController(f, nil, Options{})
	defer c.Close()

	c.Update("task-a", "tok-1")
	callA := f.next(t)
	c.Update("task-a", "tok-2")
	callA2 := f.next(t)
	assert.Equal(t, "tok-2", callA2.credential)

	callA.result <- fetchResult{err: errors.New("boom")}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, KindLoading, c.State().Kind)

	callA2.result <- fetchResult{data: json.RawMessage(`{}`)}
	require.Eventually(t, func() bool { return c.State().Kind == KindLoaded }, time.Second, time.Millisecond)
}

func TestControllerUnchangedPairIsNoop(t *testing.T) {
	f := newManualFetcher()
	c := NewController(f, nil, Options{})
	defer c.Close()

	c.Update("abc123", "tok")
	call := f.next(t)
	c.Update("abc123", "tok")
	f.assertNoCall(t)
	assert.Equal(t, uint64(1), c.Generation())
	call.result <- fetchResult{data: json.RawMessage(`{}`)}
}

func TestControllerMissingCredentialFailsWithoutRequest(t *testing.T) {
	f := newManualFetcher()
	c := NewController(f, nil, Options{})
	defer c.Close()

	c.Update("abc123", "")
	f.assertNoCall(t)
	st := c.State()
	assert.Equal(t, KindFailed, st.Kind)
	assert.Equal(t, MessageNoCredential, st.Error)
	assert.Contains(t, st.Error, "Please log in")
}

func TestControllerMissingTaskFailsWithoutRequest(t *testing.T) {
	f := newManualFetcher()
	c := NewController(f, nil, Options{})
	defer c.Close()

	c.Update("", "tok")
	f.assertNoCall(t)
	assert.Equal(t, State{Kind: KindFailed, Error: MessageNoTask}, c.State())
	assert.NotEqual(t, MessageNoTask, MessageNoCredential)
}

func TestControllerDropsInFlightResultWhenCredentialGoes(t *testing.T) {
	f := newManualFetcher()
	c := NewController(f, nil, Options{})
	defer c.Close()

	c.Update("abc123", "tok")
	call := f.next(t)
	c.Update("abc123", "")
	call.result <- fetchResult{data: json.RawMessage(`{"id":"abc123"}`)}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, MessageNoCredential, c.State().Error)
}

func TestControllerFailurePrefersServerMessage(t *testing.T) {
	f := newManualFetcher()
	c := NewController(f, nil, Options{})
	defer c.Close()

	c.Update("abc123", "tok")
	f.next(t).result <- fetchResult{err: &RequestError{Status: 401, Message: "Credential rejected"}}
	require.Eventually(t, func() bool { return c.State().Kind == KindFailed }, time.Second, time.Millisecond)
	assert.Equal(t, "Credential rejected", c.State().Error)

	c.Update("other", "tok")
	f.next(t).result <- fetchResult{err: errors.New("dial tcp 127.0.0.1:8787: connect: connection refused")}
	require.Eventually(t, func() bool { return c.State().TaskID == "other" && c.State().Kind == KindFailed }, time.Second, time.Millisecond)
	assert.Equal(t, MessageFetchFailed, c.State().Error)
}

func TestControllerCloseDropsResult(t *testing.T) {
	f := newManualFetcher()
	log := &stateLog{}
	c := NewController(f, log.record, Options{})

	c.Update("abc123", "tok")
	call := f.next(t)
	go func() {
		time.Sleep(10 * time.Millisecond)
		call.result <- fetchResult{data: json.RawMessage(`{}`)}
	}()
	c.Close()
	c.Update("again", "tok")

	assert.Equal(t, []Kind{KindLoading}, log.kinds())
}

func TestControllerTimeout(t *testing.T) {
	fetcher := FetcherFunc(func(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewController(fetcher, nil, Options{Timeout: 10 * time.Millisecond})
	defer c.Close()

	c.Update("abc123", "tok")
	require.Eventually(t, func() bool { return c.State().Kind == KindFailed }, time.Second, time.Millisecond)
	assert.Equal(t, MessageFetchFailed+": request timed out", c.State().Error)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *countingObserver) ObserveTaskFetch(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestControllerReportsOutcomes(t *testing.T) {
	f := newManualFetcher()
	obs := &countingObserver{}
	c := NewController(f, nil, Options{Observer: obs})

	c.Update("a", "tok")
	a := f.next(t)
	c.Update("b", "tok")
	b := f.next(t)
	a.result <- fetchResult{data: json.RawMessage(`{}`)}
	b.result <- fetchResult{data: json.RawMessage(`{}`)}
	require.Eventually(t, func() bool { return c.State().Kind == KindLoaded }, time.Second, time.Millisecond)
	c.Close()

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.ElementsMatch(t, []string{"stale", "ok"}, obs.outcomes)
}
