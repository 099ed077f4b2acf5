package ws

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stepsnap/stepsnap/internal/config"
	"github.com/stepsnap/stepsnap/internal/imaging"
	"github.com/stepsnap/stepsnap/internal/mock"
	"github.com/stepsnap/stepsnap/internal/pipeline"
	"github.com/stepsnap/stepsnap/internal/session"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection. The client side stays open until the test ends.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, ""), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

// subscribe connects a real client to b and returns the client side.
func subscribe(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if _, err := b.AddClient(c); err != nil {
			t.Errorf("add client: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

type inbound struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) (inbound, bool) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var m inbound
	if err := conn.ReadJSON(&m); err != nil {
		return m, false
	}
	return m, true
}

type testStack struct {
	srv   *httptest.Server
	orch  *pipeline.Orchestrator
	store *session.Store
	b     *Broadcaster
	token string
}

func newTestStack(t *testing.T, token string) *testStack {
	t.Helper()
	store := session.NewStore()
	b := NewBroadcaster(store, 10*time.Millisecond, time.Hour, 0)
	b.SetLogger(discard)
	b.SetPrivacyFilter(&session.PrivacyFilter{MaskValues: true, StripImages: true})

	orch := pipeline.New(store, mock.NewCapturer(imaging.NewProcessor(), 200, 100), pipeline.Options{
		Surface: &mock.Surface{},
		Logger:  discard,
		OnEvent: b.Notify,
	})
	router := NewRouter(orch, nil, discard)
	server := NewServer(config.ServerConfig{AuthToken: token}, router, orch, b, discard)
	srv := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		srv.Close()
		b.Stop()
		orch.Wait()
	})
	return &testStack{srv: srv, orch: orch, store: store, b: b, token: token}
}

func (s *testStack) post(t *testing.T, typ RequestType, payload any) inbound {
	t.Helper()
	req := Request{ID: string(typ), Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		req.Payload = raw
	}
	body, _ := json.Marshal(req)

	httpReq, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/messages", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("post %s: %v", typ, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post %s: status %d", typ, resp.StatusCode)
	}
	var out inbound
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s response: %v", typ, err)
	}
	return out
}

func clickEvent(tabID int, text string) map[string]any {
	return map[string]any{"event": session.InteractionEvent{
		Kind:      session.KindClick,
		Timestamp: time.Now().UnixMilli(),
		URL:       "https://example.com/app",
		TabID:     tabID,
		Element:   &session.ElementInfo{Tag: "button", Text: text},
	}}
}
