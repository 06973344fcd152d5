package panel

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusMounted   Status = "mounted"
	StatusUnmounted Status = "unmounted"
)

var ErrNotFound = errors.New("panel not found")

// Info describes one mounted panel for diagnostics. It never carries task
// data or credentials.
type Info struct {
	ID             string    `json:"panel_id"`
	Status         Status    `json:"status"`
	Screen         string    `json:"screen"`
	User           string    `json:"user,omitempty"`
	TabURL         string    `json:"tab_url,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	TaskStatus     string    `json:"task_status,omitempty"`
	MountedAt      time.Time `json:"mounted_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	info   Info
	unplug context.CancelFunc
}

// Registry tracks mounted panels and unmounts the ones that go quiet.
type Registry struct {
	mu          sync.RWMutex
	panels      map[string]*entry
	idleTimeout time.Duration
	onExpire    func(Info)
}

func NewRegistry(idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Registry{
		panels:      make(map[string]*entry),
		idleTimeout: idleTimeout,
	}
}

func (r *Registry) SetExpireHook(hook func(Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Mount records a panel. unplug is called if the panel expires.
func (r *Registry) Mount(id string, unplug context.CancelFunc) Info {
	now := time.Now().UTC()
	e := &entry{
		info: Info{
			ID:             id,
			Status:         StatusMounted,
			MountedAt:      now,
			LastActivityAt: now,
		},
		unplug: unplug,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panels[id] = e
	return e.info
}

func (r *Registry) Get(id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.panels[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return e.info, nil
}

func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.panels[id]
	if !ok {
		return ErrNotFound
	}
	e.info.LastActivityAt = time.Now().UTC()
	return nil
}

// Update applies fn to the panel's info, keeping its identity fields.
func (r *Registry) Update(id string, fn func(*Info)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.panels[id]
	if !ok {
		return ErrNotFound
	}
	keep := e.info
	fn(&e.info)
	e.info.ID, e.info.Status, e.info.MountedAt = keep.ID, keep.Status, keep.MountedAt
	return nil
}

// Unmount removes the panel and returns its final info.
func (r *Registry) Unmount(id string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.panels[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	delete(r.panels, id)
	e.info.Status = StatusUnmounted
	e.info.LastActivityAt = time.Now().UTC()
	return e.info, nil
}

// List returns mounted panels, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.panels))
	for _, e := range r.panels {
		out = append(out, e.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MountedAt.Before(out[j].MountedAt) })
	return out
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.panels)
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireIdle()
			}
		}
	}()
}

func (r *Registry) expireIdle() {
	now := time.Now().UTC()
	var (
		expired []Info
		unplug  []context.CancelFunc
	)

	r.mu.Lock()
	for id, e := range r.panels {
		if now.Sub(e.info.LastActivityAt) < r.idleTimeout {
			continue
		}
		delete(r.panels, id)
		e.info.Status = StatusUnmounted
		expired = append(expired, e.info)
		if e.unplug != nil {
			unplug = append(unplug, e.unplug)
		}
	}
	hook := r.onExpire
	r.mu.Unlock()

	for _, fn := range unplug {
		fn()
	}
	if hook != nil {
		for _, info := range expired {
			hook(info)
		}
	}
}
