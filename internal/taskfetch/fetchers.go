package taskfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harshmpotenz/SideBar/internal/clickup"
)

// RelayFetcher posts {taskId, credential} to a relay that holds the task
// service token.
type RelayFetcher struct {
	url        string
	httpClient *http.Client
}

func NewRelayFetcher(url string, httpClient *http.Client) *RelayFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RelayFetcher{url: strings.TrimSpace(url), httpClient: httpClient}
}

type relayRequest struct {
	TaskID     string `json:"taskId"`
	Credential string `json:"credential"`
}

func (f *RelayFetcher) Fetch(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
	body, err := json.Marshal(relayRequest{TaskID: taskID, Credential: credential})
	if err != nil {
		return nil, fmt.Errorf("marshal relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read relay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{Status: resp.StatusCode, Message: relayMessage(raw)}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, errors.New("relay returned a malformed task")
	}
	return json.RawMessage(trimmed), nil
}

func relayMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
		Err   string `json:"err"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return strings.TrimSpace(payload.Error)
	}
	return strings.TrimSpace(payload.Err)
}

// DirectFetcher calls ClickUp with the session credential itself.
type DirectFetcher struct {
	client *clickup.Client
}

func NewDirectFetcher(client *clickup.Client) *DirectFetcher {
	return &DirectFetcher{client: client}
}

func (f *DirectFetcher) Fetch(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
	return f.client.GetTask(ctx, credential, taskID)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, taskID, credential string) (json.RawMessage, error)

func (f FetcherFunc) Fetch(ctx context.Context, taskID, credential string) (json.RawMessage, error) {
	return f(ctx, taskID, credential)
}
