package taskfetch

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindIdle    Kind = "idle"
	KindLoading Kind = "loading"
	KindLoaded  Kind = "loaded"
	KindFailed  Kind = "failed"
)

const (
	MessageNoTask       = "No ClickUp task to load. Open a ClickUp task page first."
	MessageNoCredential = "Please log in to load ClickUp task details."
	MessageFetchFailed  = "Failed to fetch task data"
)

// State is the fetch state for one (task id, credential) pair. Data is the
// task service payload as received.
type State struct {
	Kind   Kind
	TaskID string
	Data   json.RawMessage
	Error  string
}

func (s State) clone() State {
	if s.Data != nil {
		s.Data = append(json.RawMessage(nil), s.Data...)
	}
	return s
}

// RequestError is a failed task request. Message is what the panel shows.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("task request failed with status %d", e.Status)
}
