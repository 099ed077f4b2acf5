package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stepsnap/stepsnap/internal/session"
)

// ErrTooManyConnections is returned by AddClient when maxConns is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster pushes the active session to every subscriber. Change
// notifications are coalesced over the throttle window and only the most
// recent one is sent. A full snapshot goes out on every snapshot tick.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int

	store          *session.Store
	privacy        *session.PrivacyFilter
	throttle       time.Duration
	snapshotTicker *time.Ticker
	done           chan struct{}
	stopOnce       sync.Once

	flushMu    sync.Mutex
	pending    *session.Event
	flushTimer *time.Timer

	seq atomic.Uint64
	log *slog.Logger
}

func NewBroadcaster(store *session.Store, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		store:    store,
		privacy:  &session.PrivacyFilter{},
		throttle: throttle,
		done:     make(chan struct{}),
		log:      slog.Default(),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// SetPrivacyFilter replaces the filter applied to outgoing sessions.
func (b *Broadcaster) SetPrivacyFilter(f *session.PrivacyFilter) {
	if f == nil {
		f = &session.PrivacyFilter{}
	}
	b.mu.Lock()
	b.privacy = f
	b.mu.Unlock()
}

func (b *Broadcaster) SetLogger(l *slog.Logger) {
	if l != nil {
		b.log = l
	}
}

// FilterSession applies the privacy filter. A nil session stays nil.
func (b *Broadcaster) FilterSession(s *session.CaptureSession) *session.CaptureSession {
	if s == nil {
		return nil
	}
	b.mu.RLock()
	f := b.privacy
	b.mu.RUnlock()
	if f.IsNoop() {
		return s.Clone()
	}
	return f.Apply(s)
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{conn: conn, b: b, send: make(chan []byte, sendBuffer)}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()

	if data, err := b.encode(b.snapshotMessage()); err == nil {
		b.sendTo(c, data)
	}
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// sendTo queues data for one client. It reports false when the client is
// gone or its buffer is full.
func (b *Broadcaster) sendTo(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Notify queues a session change. It is safe to call from any goroutine.
func (b *Broadcaster) Notify(ev session.Event) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pending = &ev
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	ev := b.pending
	b.pending = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if ev == nil {
		return
	}
	b.broadcast(b.eventMessage(*ev))
}

func (b *Broadcaster) eventMessage(ev session.Event) WSMessage {
	if ev.Type == session.EventCleared || ev.Session == nil {
		return WSMessage{Type: MsgCleared, Payload: SessionPayload{Event: ev.Type.String()}}
	}
	return WSMessage{
		Type: MsgSession,
		Payload: SessionPayload{
			Session: b.FilterSession(ev.Session),
			Event:   ev.Type.String(),
			StepID:  ev.StepID,
		},
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	var payload SessionPayload
	if s, ok := b.store.Get(); ok {
		payload.Session = b.FilterSession(s)
	}
	return WSMessage{Type: MsgSnapshot, Payload: payload}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(b.snapshotMessage())
		}
	}
}

func (b *Broadcaster) encode(msg WSMessage) ([]byte, error) {
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcast marshal error", "type", msg.Type, "error", err)
		return nil, err
	}
	return data, nil
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := b.encode(msg)
	if err != nil {
		return
	}

	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.log.Warn("ws client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop halts the snapshot loop, drops any pending flush and disconnects
// every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.done)

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.pending = nil
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}
