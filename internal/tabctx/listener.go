// Package tabctx tracks the host tab the panel is attached to.
package tabctx

import (
	"sync"

	"github.com/harshmpotenz/SideBar/internal/protocol"
)

// Snapshot is the last known host tab. An empty URL means not yet known.
type Snapshot struct {
	URL   string
	Title string
}

// PostFunc sends a message to the hosting frame.
type PostFunc func(msg any) error

// Listener filters inbound frames for tab snapshots while active. It can be
// activated again after Deactivate.
type Listener struct {
	post  PostFunc
	apply func(Snapshot)

	mu       sync.Mutex
	active   bool
	current  Snapshot
	hasValue bool
}

func NewListener(post PostFunc, apply func(Snapshot)) *Listener {
	return &Listener{post: post, apply: apply}
}

// Activate starts applying snapshots and asks the hosting frame for the
// current tab. The request is sent at most once per activation.
func (l *Listener) Activate() error {
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return nil
	}
	l.active = true
	l.mu.Unlock()

	if l.post == nil {
		return nil
	}
	return l.post(protocol.RequestInitialData{Type: protocol.TypeRequestInitialData})
}

// Deactivate stops applying snapshots and forgets the last one. No apply
// call starts after it returns.
func (l *Listener) Deactivate() {
	l.mu.Lock()
	l.active = false
	l.current = Snapshot{}
	l.hasValue = false
	l.mu.Unlock()
}

func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Deliver offers a raw inbound frame. It reports whether the frame was a
// tabInfo envelope; anything else is ignored without error. Duplicate
// snapshots are not applied twice.
func (l *Listener) Deliver(raw []byte) bool {
	msg, err := protocol.ParseTabInfo(raw)
	if err != nil {
		return false
	}
	l.Apply(Snapshot{URL: msg.URL, Title: msg.Title})
	return true
}

// Apply installs a snapshot if the listener is active.
func (l *Listener) Apply(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return
	}
	if l.hasValue && l.current == s {
		return
	}
	l.current = s
	l.hasValue = true
	if l.apply != nil {
		l.apply(s)
	}
}

// Snapshot returns the last applied snapshot.
func (l *Listener) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
