package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/stepsnap/stepsnap/internal/config"
	"github.com/stepsnap/stepsnap/internal/imaging"
	"github.com/stepsnap/stepsnap/internal/pipeline"
)

const (
	maxRequestBytes = 32 << 20
	tokenHeader     = "X-StepSnap-Token"
)

type Server struct {
	router         *Router
	orch           *pipeline.Orchestrator
	broadcaster    *Broadcaster
	health         *HealthReporter
	static         http.Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	log            *slog.Logger
}

func NewServer(cfg config.ServerConfig, router *Router, orch *pipeline.Orchestrator, broadcaster *Broadcaster, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		router:         router,
		orch:           orch,
		broadcaster:    broadcaster,
		health:         NewHealthReporter(orch),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.AuthToken,
		log:            log,
	}

	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetStaticHandler serves a frontend at "/". Must be called before Handler.
func (s *Server) SetStaticHandler(h http.Handler) {
	s.static = h
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)

	r.Get("/api/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/ws", s.handleWS)
		r.Post("/api/messages", s.handleMessage)
		r.Get("/api/session", s.handleSession)
		r.Get("/api/steps/{id}/image", s.handleStepImage)
	})

	if s.static != nil {
		r.Handle("/*", s.static)
	}
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", "error", err)
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		s.log.Warn("ws client rejected", "remote", r.RemoteAddr, "error", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}
	s.log.Info("websocket client connected", "remote", r.RemoteAddr)

	go s.readLoop(c, r.RemoteAddr)
}

// readLoop answers requests sent over the socket until it closes. Each
// request is handled on its own goroutine so a long capture does not
// block the connection.
func (s *Server) readLoop(c *client, remote string) {
	defer func() {
		s.broadcaster.RemoveClient(c)
		s.log.Info("websocket client disconnected", "remote", remote)
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(c, errorResponse("", "malformed request: "+err.Error()))
			continue
		}
		go func(req Request) {
			s.reply(c, s.router.Dispatch(context.Background(), req))
		}(req)
	}
}

func (s *Server) reply(c *client, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("response marshal error", "type", resp.Type, "error", err)
		return
	}
	if !s.broadcaster.sendTo(c, data) {
		s.log.Debug("response dropped", "id", resp.ID)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "malformed request: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, s.router.Dispatch(r.Context(), req))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.orch.EnsureRestored(r.Context())
	var payload SessionPayload
	if sess, ok := s.orch.Store().Get(); ok {
		payload.Session = s.broadcaster.FilterSession(sess)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStepImage(w http.ResponseWriter, r *http.Request) {
	s.orch.EnsureRestored(r.Context())
	img, err := s.orch.StepImage(chi.URLParam(r, "id"))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrStepNotFound) || errors.Is(err, pipeline.ErrNoSession) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	mime, data, err := imaging.DecodeDataURL(img)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Report(r.Context(), s.broadcaster.ClientCount()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get(tokenHeader) == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}

	return false
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ws: listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
