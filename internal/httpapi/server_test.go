package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harshmpotenz/SideBar/internal/config"
	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/observability"
	"github.com/harshmpotenz/SideBar/internal/panel"
	"github.com/harshmpotenz/SideBar/internal/relay"
	"github.com/harshmpotenz/SideBar/internal/taskfetch"
)

type taskSourceFunc func(ctx context.Context, token, taskID string) (json.RawMessage, error)

func (f taskSourceFunc) GetTask(ctx context.Context, token, taskID string) (json.RawMessage, error) {
	return f(ctx, token, taskID)
}

type testEnv struct {
	svc      *identity.MemoryService
	registry *panel.Registry
	ts       *httptest.Server
}

// newTestEnv serves the whole stack with the panel fetching through this
// server's own relay.
func newTestEnv(t *testing.T, signedIn bool) *testEnv {
	t.Helper()
	svc := identity.NewMemoryService()
	if err := svc.SignUp(context.Background(), "sam@example.com", "hunter22"); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if signedIn {
		if _, err := svc.SignInWithPassword(context.Background(), "sam@example.com", "hunter22"); err != nil {
			t.Fatalf("SignInWithPassword() error = %v", err)
		}
	}

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	registry := panel.NewRegistry(time.Minute)
	runtime := panel.NewRuntime(panel.Config{
		Identity:     svc,
		Fetcher:      taskfetch.NewRelayFetcher(ts.URL+"/callback", ts.Client()),
		Registry:     registry,
		Metrics:      metrics,
		FetchTimeout: 2 * time.Second,
	})
	rel := relay.New(relay.Config{
		Users: svc,
		Tasks: taskSourceFunc(func(_ context.Context, token, taskID string) (json.RawMessage, error) {
			if token != "pk_test" {
				t.Errorf("relay used token %q, want pk_test", token)
			}
			return json.RawMessage(`{"id":"` + taskID + `","name":"Test"}`), nil
		}),
		Token:    "pk_test",
		Observer: metrics,
	})

	cfg := config.Config{IdentityMode: "memory", TaskFetchMode: "relay"}
	srv := New(cfg, Deps{Identity: svc, Panels: runtime, Registry: registry, Relay: rel, Metrics: metrics})
	handler = srv.Router()
	return &testEnv{svc: svc, registry: registry, ts: ts}
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestUIRoutes(t *testing.T) {
	env := newTestEnv(t, false)

	rootRes, err := noRedirectClient().Get(env.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}
	if got := rootRes.Header.Get("Location"); got != "/ui/" {
		t.Fatalf("GET / location = %q, want %q", got, "/ui/")
	}

	uiRes, err := http.Get(env.ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	defer uiRes.Body.Close()
	if uiRes.StatusCode != http.StatusOK {
		t.Fatalf("GET /ui/ status = %d, want %d", uiRes.StatusCode, http.StatusOK)
	}
	var body bytes.Buffer
	if _, err := body.ReadFrom(uiRes.Body); err != nil {
		t.Fatalf("reading /ui/ body failed: %v", err)
	}
	if !strings.Contains(body.String(), `id="panel-root"`) {
		t.Fatalf("GET /ui/ body missing expected content")
	}
	if uiRes.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}
	if got := uiRes.Header.Get("Content-Security-Policy"); !strings.Contains(got, "chrome-extension:") {
		t.Fatalf("Content-Security-Policy = %q, want extension frame ancestors", got)
	}
	if got := uiRes.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", got)
	}
}

func TestPerfLatencyReset(t *testing.T) {
	env := newTestEnv(t, false)

	req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/perf/latency", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /v1/perf/latency error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}

	res, err = http.Get(env.ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	var snap struct {
		WindowSize int               `json:"window_size"`
		Stages     []json.RawMessage `json:"stages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.WindowSize <= 0 || len(snap.Stages) != 0 {
		t.Fatalf("snapshot after reset = %+v", snap)
	}
}

func TestReadyReportsModes(t *testing.T) {
	env := newTestEnv(t, false)

	res, err := http.Get(env.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["identity_mode"] != "memory" || payload["task_fetch_mode"] != "relay" {
		t.Fatalf("unexpected readiness payload: %+v", payload)
	}
	if payload["chat_store_mode"] != "in-memory" {
		t.Fatalf("chat_store_mode = %v, want in-memory", payload["chat_store_mode"])
	}
}

func TestResolveEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	cases := []struct {
		url     string
		taskID  string
		message string
	}{
		{url: "https://app.clickup.com/t/abc123", taskID: "abc123"},
		{url: "https://example.com", message: "Open ClickUp Tasks Page to Start. Your current tab is https://example.com"},
	}
	for _, tc := range cases {
		res, err := http.Get(env.ts.URL + "/v1/resolve?url=" + tc.url)
		if err != nil {
			t.Fatalf("GET /v1/resolve error = %v", err)
		}
		var got resolveResponse
		err = json.NewDecoder(res.Body).Decode(&got)
		res.Body.Close()
		if err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.TaskID != tc.taskID || got.DerivationMessage != tc.message {
			t.Fatalf("resolve(%q) = %+v", tc.url, got)
		}
	}
}

func TestAuthCallbackCompletesOAuth(t *testing.T) {
	env := newTestEnv(t, false)

	res, err := noRedirectClient().Get(env.ts.URL + "/auth/callback?code=abc")
	if err != nil {
		t.Fatalf("GET /auth/callback error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusFound)
	}

	sess, err := env.svc.GetCurrentSession(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentSession() error = %v", err)
	}
	if sess == nil || sess.User.Email != "oauth-user@example.com" {
		t.Fatalf("unexpected session after callback: %+v", sess)
	}
}

func TestAuthCallbackRejectsMissingCode(t *testing.T) {
	env := newTestEnv(t, false)

	res, err := http.Get(env.ts.URL + "/auth/callback")
	if err != nil {
		t.Fatalf("GET /auth/callback error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	var payload errorResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Code != "invalid_request" {
		t.Fatalf("code = %q, want invalid_request", payload.Code)
	}
}

func TestRelayPreflight(t *testing.T) {
	env := newTestEnv(t, false)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/callback", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /callback error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestPanelWebsocketLoadsTaskThroughRelay(t *testing.T) {
	env := newTestEnv(t, true)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/panel/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readUntil := func(match func(map[string]any) bool) map[string]any {
		t.Helper()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read error = %v", err)
			}
			if match(msg) {
				return msg
			}
		}
	}

	readUntil(func(m map[string]any) bool { return m["type"] == "requestInitialData" })
	if err := conn.WriteJSON(map[string]string{"type": "tabInfo", "url": "https://app.clickup.com/t/abc123", "title": "Task"}); err != nil {
		t.Fatalf("write error = %v", err)
	}

	state := readUntil(func(m map[string]any) bool {
		task, _ := m["task"].(map[string]any)
		return m["type"] == "panel_state" && task["status"] == "loaded"
	})
	task := state["task"].(map[string]any)
	data := task["data"].(map[string]any)
	if task["task_id"] != "abc123" || data["id"] != "abc123" || data["name"] != "Test" {
		t.Fatalf("unexpected task view: %+v", task)
	}

	res, err := http.Get(env.ts.URL + "/v1/panels")
	if err != nil {
		t.Fatalf("GET /v1/panels error = %v", err)
	}
	defer res.Body.Close()
	var listed struct {
		Panels []panel.Info `json:"panels"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed.Panels) != 1 || listed.Panels[0].Screen != "main" {
		t.Fatalf("unexpected panels: %+v", listed.Panels)
	}
}

func TestOriginAllowed(t *testing.T) {
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"chrome-extension://abcdef", true},
		{"http://example.test", true},
		{"https://evil.test", false},
		{"file://", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example.test/v1/panel/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := originAllowed(false, r); got != tc.want {
			t.Fatalf("originAllowed(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}
