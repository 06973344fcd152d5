package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	refreshCheckInterval = 15 * time.Second
	sessionFileDebounce  = 150 * time.Millisecond
)

// Run keeps the session fresh and turns writes to the session file by other
// processes into change notifications. It blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	var (
		fsEvents <-chan fsnotify.Event
		fsErrors <-chan error
		target   string
	)
	if c.store != nil {
		target = filepath.Clean(c.store.Path())
		dir := filepath.Dir(target)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create session watcher: %w", err)
		}
		defer w.Close()
		// Watch the directory: atomic replaces swap the inode under the file.
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch session dir: %w", err)
		}
		fsEvents = w.Events
		fsErrors = w.Errors
	}

	ticker := time.NewTicker(refreshCheckInterval)
	defer ticker.Stop()

	var (
		debounce  *time.Timer
		debounceC <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(sessionFileDebounce)
			} else {
				debounce.Reset(sessionFileDebounce)
			}
			debounceC = debounce.C
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			c.logger.Warn("session watcher error", "error", err)
		case <-debounceC:
			debounceC = nil
			c.reloadFromDisk()
		case <-ticker.C:
			c.refreshIfDue(ctx)
		}
	}
}

func (c *Client) reloadFromDisk() {
	s, err := c.store.Load()
	if err != nil {
		c.logger.Warn("reload session file failed", "error", err)
		return
	}
	if c.adopt(s) {
		c.logger.Info("session changed by another flow", "signed_in", s != nil)
	}
}

func (c *Client) refreshIfDue(ctx context.Context) {
	c.mu.Lock()
	current := c.current.clone()
	c.mu.Unlock()
	if current == nil || !current.ExpiresWithin(c.now(), c.refreshMargin) {
		return
	}
	if _, err := c.refresh(ctx, current); err != nil {
		c.logger.Warn("background session refresh failed", "error", err)
	}
}
