package identity

import "sync"

// hub fans session changes out to subscribers.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]ChangeFunc
}

func newHub() *hub {
	return &hub{subs: make(map[int]ChangeFunc)}
}

func (h *hub) subscribe(fn ChangeFunc) func() {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// emit calls subscribers outside the lock so a callback may unsubscribe.
func (h *hub) emit(event Event, session *Session) {
	h.mu.Lock()
	fns := make([]ChangeFunc, 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(event, session.clone())
	}
}
