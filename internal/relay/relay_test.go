package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshmpotenz/SideBar/internal/clickup"
	"github.com/harshmpotenz/SideBar/internal/identity"
)

type fakeUsers map[string]*identity.User

func (f fakeUsers) GetUser(_ context.Context, token string) (*identity.User, error) {
	if token == "down" {
		return nil, errors.New("dial tcp: connection refused")
	}
	if u, ok := f[token]; ok {
		return u, nil
	}
	return nil, &identity.ServiceError{Status: http.StatusUnauthorized, Message: "invalid JWT"}
}

type fakeTasks struct {
	gotToken string
	gotID    string
	err      error
}

func (f *fakeTasks) GetTask(_ context.Context, token, taskID string) (json.RawMessage, error) {
	f.gotToken, f.gotID = token, taskID
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"id":"` + taskID + `","name":"Test"}`), nil
}

func newTestRelay(tasks *fakeTasks, token string) *httptest.Server {
	h := New(Config{
		Users: fakeUsers{"tok": {ID: "u1", Email: "sam@example.com"}},
		Tasks: tasks,
		Token: token,
	})
	r := chi.NewRouter()
	h.Mount(r)
	return httptest.NewServer(r)
}

func postCallback(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Post(url+"/callback", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer res.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	return res, payload
}

func TestCallbackRelaysWithServerToken(t *testing.T) {
	tasks := &fakeTasks{}
	ts := newTestRelay(tasks, "pk_server")
	defer ts.Close()

	res, payload := postCallback(t, ts.URL, `{"taskId":"abc123","credential":"tok"}`)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{"id": "abc123", "name": "Test"}, payload)
	assert.Equal(t, "pk_server", tasks.gotToken)
	assert.Equal(t, "abc123", tasks.gotID)
}

func TestCallbackErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		tasks  *fakeTasks
		token  string
		status int
		code   string
	}{
		{"bad body", `{`, &fakeTasks{}, "pk", http.StatusBadRequest, "invalid_request"},
		{"missing task", `{"credential":"tok"}`, &fakeTasks{}, "pk", http.StatusBadRequest, "invalid_request"},
		{"missing credential", `{"taskId":"abc"}`, &fakeTasks{}, "pk", http.StatusUnauthorized, "unauthorized"},
		{"rejected credential", `{"taskId":"abc","credential":"forged"}`, &fakeTasks{}, "pk", http.StatusUnauthorized, "unauthorized"},
		{"identity down", `{"taskId":"abc","credential":"down"}`, &fakeTasks{}, "pk", http.StatusBadGateway, "identity_unavailable"},
		{"not configured", `{"taskId":"abc","credential":"tok"}`, &fakeTasks{}, "", http.StatusServiceUnavailable, "relay_not_configured"},
		{"task not found", `{"taskId":"abc","credential":"tok"}`, &fakeTasks{err: &clickup.APIError{Status: 404, Message: "Task not found"}}, "pk", http.StatusNotFound, "task_error"},
		{"upstream down", `{"taskId":"abc","credential":"tok"}`, &fakeTasks{err: errors.New("timeout")}, "pk", http.StatusBadGateway, "upstream_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestRelay(tc.tasks, tc.token)
			defer ts.Close()

			res, payload := postCallback(t, ts.URL, tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.code, payload["code"])
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestCallbackPassesTaskServiceMessage(t *testing.T) {
	ts := newTestRelay(&fakeTasks{err: &clickup.APIError{Status: 401, Message: "Team not authorized"}}, "pk")
	defer ts.Close()

	_, payload := postCallback(t, ts.URL, `{"taskId":"abc","credential":"tok"}`)
	assert.Equal(t, "Team not authorized", payload["error"])
}

func TestGetTaskWithBearer(t *testing.T) {
	tasks := &fakeTasks{}
	ts := newTestRelay(tasks, "pk_server")
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/task/abc123", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer tok")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "abc123", tasks.gotID)

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/task/abc123", nil)
	require.NoError(t, err)
	res2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res2.StatusCode)
}
