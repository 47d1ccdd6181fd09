package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/app"
	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Worker.EncryptionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	config.Storage.Badger.InMemory = true
	config.Janitor.Enabled = false

	application, err := app.New(config, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(application.Shutdown)

	s := New(application)
	ts := httptest.NewServer(s.withMiddleware(s.router))
	t.Cleanup(ts.Close)
	return ts, application
}

func TestSplitResourcePath(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		id     string
		op     string
	}{
		{"/v1/sessions/abc/events", "/v1/sessions/", "abc", "events"},
		{"/v1/sessions/abc", "/v1/sessions/", "abc", ""},
		{"/v1/sessions/abc/", "/v1/sessions/", "abc", ""},
		{"/v1/sessions/", "/v1/sessions/", "", ""},
		{"/widget/abc/start", "/widget/", "abc", "start"},
		{"/v1/sessions/abc/pretty.html", "/v1/sessions/", "abc", "pretty.html"},
	}

	for _, tt := range tests {
		id, op := splitResourcePath(tt.path, tt.prefix)
		assert.Equal(t, tt.id, id, tt.path)
		assert.Equal(t, tt.op, op, tt.path)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts, application := newTestServer(t)

	// Create a session.
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader(`{"user_id":"u1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	sessionID := created["session_id"]
	require.NotEmpty(t, sessionID)
	assert.Contains(t, created["iframe_url"], "/widget/"+sessionID)

	// Status for the fresh session.
	resp, err = http.Get(ts.URL + "/v1/sessions/" + sessionID + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session models.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, models.StatusCreated, session.Status)

	// Result is not ready before a final event.
	resp, err = http.Get(ts.URL + "/v1/sessions/" + sessionID + "/result")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Submit credentials through the widget endpoint.
	resp, err = http.Post(ts.URL+"/widget/"+sessionID+"/start", "application/json",
		strings.NewReader(`{"provider":"experian","username":"user@example.com","password":"hunter2"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The submission became a durable job carrying only the opaque token.
	job, done, err := application.Queue.Receive(context.Background())
	require.NoError(t, err)
	defer done()
	assert.Equal(t, sessionID, job.SessionID)
	assert.NotContains(t, job.EncryptedCredentials, "hunter2")
}

func TestEventStreamOverWebSocket(t *testing.T) {
	ts, application := newTestServer(t)
	ctx := context.Background()

	session, err := application.Registry.CreateSession(ctx, "u1", "")
	require.NoError(t, err)

	// History written before the client attaches is replayed on attach.
	_, err = application.Registry.Append(ctx, session.ID, models.EventQueued, nil)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + session.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var first models.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, models.EventQueued, first.Type)

	// Events appended while attached arrive live, in order.
	_, err = application.Registry.Append(ctx, session.ID, models.EventStarted, nil)
	require.NoError(t, err)

	var second models.Event
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, models.EventStarted, second.Type)
}

func TestUnknownRoutes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/sessions/abc/unknown-op")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSReflectsOnlyAllowedOrigins(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:8082")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:8082", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Contains(t, health, "providers")

	resp, err = http.Get(ts.URL + "/api/version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
