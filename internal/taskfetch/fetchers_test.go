package taskfetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshmpotenz/SideBar/internal/clickup"
)

func TestRelayFetcherPostsPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"taskId": "abc123", "credential": "tok"}, body)
		_, _ = w.Write([]byte(`{"id":"abc123","name":"Test"}`))
	}))
	defer srv.Close()

	raw, err := NewRelayFetcher(srv.URL+"/callback", nil).Fetch(context.Background(), "abc123", "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc123","name":"Test"}`, string(raw))
}

func TestRelayFetcherErrorCarriesRelayMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"credential rejected","code":"unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewRelayFetcher(srv.URL, nil).Fetch(context.Background(), "abc123", "tok")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, "credential rejected", DisplayMessage(err))
}

func TestRelayFetcherErrorWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRelayFetcher(srv.URL, nil).Fetch(context.Background(), "abc123", "tok")
	require.Error(t, err)
	assert.Equal(t, MessageFetchFailed, DisplayMessage(err))
}

func TestDirectFetcherUsesCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/task/abc123", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer srv.Close()

	f := NewDirectFetcher(clickup.NewClient(srv.URL, nil))
	raw, err := f.Fetch(context.Background(), "abc123", "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"abc123"}`, string(raw))
}

func TestDirectFetchSendsOneRequestPerPair(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"err":"busy"}`))
	}))
	defer srv.Close()

	c := NewController(NewDirectFetcher(clickup.NewClient(srv.URL, nil)), nil, Options{})
	defer c.Close()

	c.Update("abc123", "tok")
	require.Eventually(t, func() bool { return c.State().Kind == KindFailed }, time.Second, time.Millisecond)
	assert.Equal(t, "busy", c.State().Error)
	assert.Equal(t, int32(1), requests.Load())
}
