// Package taskfetch loads the task the panel is looking at and keeps only
// the newest request's outcome.
package taskfetch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harshmpotenz/SideBar/internal/clickup"
)

// Fetcher loads a raw task object on behalf of credential.
type Fetcher interface {
	Fetch(ctx context.Context, taskID, credential string) (json.RawMessage, error)
}

// Observer receives fetch outcomes, typically for metrics.
type Observer interface {
	ObserveTaskFetch(outcome string, elapsed time.Duration)
}

type Options struct {
	Timeout  time.Duration
	Logger   *slog.Logger
	Observer Observer
}

// Controller drives the fetch state from the (task id, credential) pair.
// Every pair change starts a new generation; results of older generations
// are dropped.
type Controller struct {
	fetcher  Fetcher
	onChange func(State)
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer

	mu         sync.Mutex
	generation uint64
	taskID     string
	credential string
	seen       bool
	state      State
	cancel     context.CancelFunc
	closed     bool
	wg         sync.WaitGroup
}

// NewController returns a controller in the Idle state. onChange is called
// with every new state while the controller's lock is held, so it must not
// block or call back into the controller.
func NewController(fetcher Fetcher, onChange func(State), opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		fetcher:  fetcher,
		onChange: onChange,
		timeout:  opts.Timeout,
		logger:   logger.With("component", "taskfetch"),
		observer: opts.Observer,
		state:    State{Kind: KindIdle},
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Generation is the number of distinct pairs seen so far.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Update reports the current pair. An unchanged pair is a no-op. A pair
// missing either member fails immediately without a request.
func (c *Controller) Update(taskID, credential string) {
	taskID = strings.TrimSpace(taskID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.seen && taskID == c.taskID && credential == c.credential {
		return
	}
	c.seen = true
	c.taskID, c.credential = taskID, credential
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	switch {
	case taskID == "":
		c.setLocked(State{Kind: KindFailed, Error: MessageNoTask})
		return
	case credential == "":
		c.setLocked(State{Kind: KindFailed, TaskID: taskID, Error: MessageNoCredential})
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.cancel = cancel
	c.setLocked(State{Kind: KindLoading, TaskID: taskID})

	gen := c.generation
	c.wg.Add(1)
	go c.run(ctx, cancel, gen, taskID, credential)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, gen uint64, taskID, credential string) {
	defer c.wg.Done()
	defer cancel()

	started := time.Now()
	data, err := c.fetcher.Fetch(ctx, taskID, credential)
	elapsed := time.Since(started)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.generation {
		c.observe("stale", elapsed)
		c.logger.Debug("dropping stale task result", "task_id", taskID, "generation", gen)
		return
	}
	c.cancel = nil
	if err != nil {
		c.observe("error", elapsed)
		c.logger.Info("task fetch failed", "task_id", taskID, "error", err)
		c.setLocked(State{Kind: KindFailed, TaskID: taskID, Error: DisplayMessage(err)})
		return
	}
	c.observe("ok", elapsed)
	c.setLocked(State{Kind: KindLoaded, TaskID: taskID, Data: data})
}

func (c *Controller) setLocked(s State) {
	c.state = s
	if c.onChange != nil {
		c.onChange(s.clone())
	}
}

func (c *Controller) observe(outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveTaskFetch(outcome, elapsed)
	}
}

// Close drops any in-flight result and waits for request goroutines.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// DisplayMessage turns a fetch error into the text shown to the user,
// preferring the server's own message.
func DisplayMessage(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && strings.TrimSpace(reqErr.Message) != "" {
		return reqErr.Message
	}
	var apiErr *clickup.APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MessageFetchFailed + ": request timed out"
	}
	return MessageFetchFailed
}
