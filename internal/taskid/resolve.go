// Package taskid derives a ClickUp task identifier from the host tab's URL.
package taskid

import (
	"fmt"
	"strings"
)

const (
	// TaskPagePrefix is the only URL shape treated as a task page.
	TaskPagePrefix = "https://app.clickup.com/t/"
	// PathSeparator splits a task URL into its host part and the task id.
	PathSeparator = "/t/"
)

// Identity is the result of resolving a tab URL. At most one of TaskID and
// Message is non-empty; both are empty while the tab URL is not yet known.
type Identity struct {
	TaskID  string `json:"task_id,omitempty"`
	Message string `json:"derivation_message,omitempty"`
}

// HasTask reports whether a task id was derived.
func (i Identity) HasTask() bool { return i.TaskID != "" }

// Pending reports the "tab not known yet" state.
func (i Identity) Pending() bool { return i.TaskID == "" && i.Message == "" }

// Resolve maps a tab URL to an Identity. It is pure: the same url always
// yields the same result.
func Resolve(url string) Identity {
	if url == "" {
		return Identity{}
	}
	if id, ok := extract(url); ok {
		return Identity{TaskID: id}
	}
	return Identity{Message: NotApplicableMessage(url)}
}

// NotApplicableMessage is shown when the tab is not a task page.
func NotApplicableMessage(url string) string {
	return fmt.Sprintf("Open ClickUp Tasks Page to Start. Your current tab is %s", url)
}

func extract(url string) (string, bool) {
	if !strings.HasPrefix(url, TaskPagePrefix) {
		return "", false
	}
	parts := strings.Split(url, PathSeparator)
	if len(parts) != 2 {
		return "", false
	}
	id := parts[1]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
