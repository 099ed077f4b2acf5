package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepsnap/stepsnap/internal/config"
	"github.com/stepsnap/stepsnap/internal/pipeline"
	"github.com/stepsnap/stepsnap/internal/session"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'; img-src 'self' data:",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestAuthorize(t *testing.T) {
	s := NewServer(config.ServerConfig{AuthToken: "s3cret"}, nil, nil, nil, discard)

	tests := []struct {
		name   string
		mutate func(r *http.Request)
		want   bool
	}{
		{"no token", func(*http.Request) {}, false},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=s3cret" }, true},
		{"header", func(r *http.Request) { r.Header.Set(tokenHeader, "s3cret") }, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer s3cret") }, true},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			tt.mutate(r)
			assert.Equal(t, tt.want, s.authorize(r))
		})
	}

	open := NewServer(config.ServerConfig{}, nil, nil, nil, discard)
	assert.True(t, open.authorize(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestCheckOrigin(t *testing.T) {
	local := NewServer(config.ServerConfig{}, nil, nil, nil, discard)
	pinned := NewServer(config.ServerConfig{AllowedOrigins: []string{"https://app.example.com", " "}}, nil, nil, nil, discard)

	tests := []struct {
		name   string
		s      *Server
		origin string
		want   bool
	}{
		{"no origin", local, "", true},
		{"localhost", local, "http://localhost:5173", true},
		{"loopback v4", local, "http://127.0.0.1:9000", true},
		{"loopback v6", local, "http://[::1]:9000", true},
		{"same host", local, "http://example.test", true},
		{"foreign", local, "https://evil.example", false},
		{"allowed", pinned, "https://app.example.com", true},
		{"allowed host other scheme", pinned, "http://app.example.com", true},
		{"not allowed", pinned, "http://localhost:5173", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.test/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, tt.s.checkOrigin(r))
		})
	}
}

func TestMessagesCaptureFlow(t *testing.T) {
	st := newTestStack(t, "")

	resp := st.post(t, ReqStartCapture, map[string]any{"tab": session.TabRef{ID: 7, Title: "Docs", URL: "https://example.com"}})
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	assert.Equal(t, string(ReqStartCapture), resp.ID)

	resp = st.post(t, ReqInteraction, clickEvent(7, "Save"))
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	var produced struct {
		Outcome string        `json:"outcome"`
		Step    *session.Step `json:"step"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &produced))
	assert.Equal(t, "produced", produced.Outcome)
	require.NotNil(t, produced.Step)
	assert.Equal(t, `Click the "Save" button`, produced.Step.Description)

	resp = st.post(t, ReqInteraction, clickEvent(99, "Elsewhere"))
	require.Equal(t, StatusOK, resp.Status)
	assert.Contains(t, string(resp.Data), `"wrong_tab"`)

	// GET /api/session is filtered for observers.
	httpResp, err := http.Get(st.srv.URL + "/api/session")
	require.NoError(t, err)
	var payload SessionPayload
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&payload))
	httpResp.Body.Close()
	require.NotNil(t, payload.Session)
	require.Len(t, payload.Session.Steps, 1)
	assert.Empty(t, payload.Session.Steps[0].Screenshot)
	assert.NotEmpty(t, payload.Session.Steps[0].Thumbnail)

	// The full image is served as raw bytes.
	httpResp, err = http.Get(st.srv.URL + "/api/steps/" + produced.Step.ID + "/image")
	require.NoError(t, err)
	body, _ := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.Equal(t, "image/png", httpResp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

	httpResp, err = http.Get(st.srv.URL + "/api/steps/missing/image")
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, httpResp.StatusCode)

	resp = st.post(t, ReqStopCapture, nil)
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	assert.Equal(t, session.Editing, st.store.Status())

	resp = st.post(t, ReqExportReady, nil)
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	assert.JSONEq(t, `{"status":"done"}`, string(resp.Data))
}

func TestMessagesEditing(t *testing.T) {
	st := newTestStack(t, "")
	st.post(t, ReqStartCapture, map[string]any{"tab": session.TabRef{ID: 1, Title: "App"}})

	var ids []string
	for i, label := range []string{"One", "Two"} {
		if i > 0 {
			// stay outside the general dedup window
			time.Sleep(400 * time.Millisecond)
		}
		resp := st.post(t, ReqInteraction, clickEvent(1, label))
		var out struct {
			Step *session.Step `json:"step"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &out))
		require.NotNil(t, out.Step, "step %d not produced: %s", i, resp.Data)
		ids = append(ids, out.Step.ID)
	}

	resp := st.post(t, ReqReorderSteps, map[string]any{"stepIds": []string{ids[1], ids[0]}})
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	sess, _ := st.store.Get()
	assert.Equal(t, ids[1], sess.Steps[0].ID)
	assert.Equal(t, 1, sess.Steps[0].Number)

	resp = st.post(t, ReqUpdateStep, map[string]any{"stepId": ids[0], "description": "Press one"})
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	assert.Contains(t, string(resp.Data), "Press one")

	resp = st.post(t, ReqDeleteStep, map[string]any{"stepId": ids[1]})
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	assert.Equal(t, 1, st.store.StepCount())

	resp = st.post(t, ReqDeleteStep, map[string]any{"stepId": "nope"})
	assert.Equal(t, StatusError, resp.Status)

	resp = st.post(t, ReqSaveToolbarPosition, map[string]any{"position": session.ToolbarPosition{X: 5, Y: 9}})
	require.Equal(t, StatusOK, resp.Status)
	resp = st.post(t, ReqGetToolbarPosition, nil)
	assert.JSONEq(t, `{"position":{"x":5,"y":9}}`, string(resp.Data))

	resp = st.post(t, ReqCancelCapture, nil)
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	resp = st.post(t, ReqGetSession, nil)
	assert.JSONEq(t, `{"session":null}`, string(resp.Data))
}

func TestMessagesErrors(t *testing.T) {
	st := newTestStack(t, "")

	resp := st.post(t, ReqPauseCapture, nil)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "idle")

	resp = st.post(t, RequestType("teleport"), nil)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "unknown request type")

	resp = st.post(t, ReqInteraction, map[string]any{"event": map[string]any{"type": "hover"}})
	assert.Equal(t, StatusError, resp.Status)

	httpResp, err := http.Post(st.srv.URL+"/api/messages", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, httpResp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	st := newTestStack(t, "tok")

	httpResp, err := http.Get(st.srv.URL + "/api/session")
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)

	httpResp, err = http.Get(st.srv.URL + "/api/session?token=tok")
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)

	// Health stays open for probes.
	httpResp, err = http.Get(st.srv.URL + "/api/health")
	require.NoError(t, err)
	var h Health
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&h))
	httpResp.Body.Close()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "idle", h.Session)
	assert.False(t, h.InFlight)

	_, _, err = websocket.DefaultDialer.Dial(wsURL(st.srv.URL, "/ws"), nil)
	assert.Error(t, err)
}

func TestWebSocketRequests(t *testing.T) {
	st := newTestStack(t, "tok")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(st.srv.URL, "/ws?token=tok"), nil)
	require.NoError(t, err)
	defer conn.Close()

	m, ok := readMessage(t, conn, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, MsgSnapshot, m.Type)

	require.NoError(t, conn.WriteJSON(Request{
		ID:      "r1",
		Type:    ReqStartCapture,
		Payload: json.RawMessage(`{"tab":{"id":4,"title":"Shop"}}`),
	}))

	var gotResponse, gotPush bool
	deadline := time.Now().Add(3 * time.Second)
	for !(gotResponse && gotPush) && time.Now().Before(deadline) {
		m, ok := readMessage(t, conn, time.Until(deadline))
		if !ok {
			break
		}
		switch m.Type {
		case MsgResponse:
			assert.Equal(t, "r1", m.ID)
			assert.Equal(t, StatusOK, m.Status)
			gotResponse = true
		case MsgSession:
			var p SessionPayload
			require.NoError(t, json.Unmarshal(m.Payload, &p))
			assert.Equal(t, "started", p.Event)
			assert.Equal(t, "Shop", p.Session.Title)
			gotPush = true
		}
	}
	assert.True(t, gotResponse, "no response to r1")
	assert.True(t, gotPush, "no session push")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	m, ok = readMessage(t, conn, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, MsgResponse, m.Type)
	assert.Equal(t, StatusError, m.Status)
}

type fakeResolver struct{}

func (fakeResolver) Ref(_ context.Context, id int) (session.TabRef, error) {
	if id != 2 {
		return session.TabRef{}, errors.New("no such tab")
	}
	return session.TabRef{ID: 2, Title: "Resolved", URL: "https://resolved.example"}, nil
}

func TestRouterResolvesTab(t *testing.T) {
	store := session.NewStore()
	orch := pipeline.New(store, nil, pipeline.Options{Logger: discard})
	r := NewRouter(orch, fakeResolver{}, discard)

	resp := r.Dispatch(context.Background(), Request{Type: ReqStartCapture, Payload: json.RawMessage(`{"tab":{"id":2}}`)})
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	sess, _ := store.Get()
	assert.Equal(t, "Resolved", sess.Title)
	assert.Equal(t, "https://resolved.example", sess.StartURL)
	orch.Wait()
}

func TestRouterRecoversPanic(t *testing.T) {
	r := NewRouter(nil, nil, discard)
	resp := r.Dispatch(context.Background(), Request{ID: "x", Type: ReqGetSession})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "x", resp.ID)
	assert.Contains(t, resp.Error, "internal error")
}

func TestRouterMalformedPayload(t *testing.T) {
	orch := pipeline.New(session.NewStore(), nil, pipeline.Options{Logger: discard})
	r := NewRouter(orch, nil, discard)
	resp := r.Dispatch(context.Background(), Request{Type: ReqDeleteStep, Payload: json.RawMessage(`[1,2]`)})
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "invalid delete_step payload")
}

type countingPersister struct {
	restores int
	sess     *session.CaptureSession
}

func (p *countingPersister) Save(context.Context, *session.CaptureSession) error { return nil }
func (p *countingPersister) Purge(context.Context) error { return nil }

func (p *countingPersister) Restore(context.Context) (*session.CaptureSession, error) {
	p.restores++
	return p.sess.Clone(), nil
}

func TestRouterRestoresOnFirstRequest(t *testing.T) {
	persister := &countingPersister{sess: &session.CaptureSession{
		ID:     "kept",
		Status: session.Editing,
		Steps:  []session.Step{{ID: "s1", Number: 1}},
	}}
	orch := pipeline.New(session.NewStore(), nil, pipeline.Options{Logger: discard, Persister: persister})
	r := NewRouter(orch, nil, discard)
	assert.Zero(t, persister.restores, "nothing restored before a request arrives")

	resp := r.Dispatch(context.Background(), Request{Type: ReqGetSession})
	require.Equal(t, StatusOK, resp.Status, resp.Error)
	sess, ok := orch.Store().Get()
	require.True(t, ok)
	assert.Equal(t, "kept", sess.ID)

	r.Dispatch(context.Background(), Request{Type: ReqGetSession})
	assert.Equal(t, 1, persister.restores)
	orch.Wait()
}
