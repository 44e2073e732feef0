// Package chatserver is an in-memory reference implementation of the chat
// wire protocol. It backs `roomwire serve`, the examples, and the
// integration tests; it is not meant to persist anything across restarts.
package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxAvatarBytes = 1 << 20

// Options configures a Server. Zero values fall back to slog's default
// logger, an in-memory avatar store, and the default Prometheus registry.
type Options struct {
	Logger   *slog.Logger
	Avatars  AvatarStore
	Registry *prometheus.Registry
}

// Server hosts chat rooms over WebSocket plus the HTTP side endpoints
// (roster, avatars, metrics, health).
type Server struct {
	logger   *slog.Logger
	avatars  AvatarStore
	upgrader websocket.Upgrader
	router   chi.Router

	mu    sync.Mutex
	rooms map[string]*room

	connections prometheus.Gauge
	messages    prometheus.Counter
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	avatars := opts.Avatars
	if avatars == nil {
		avatars = NewMemoryAvatars()
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if opts.Registry != nil {
		registerer = opts.Registry
		gatherer = opts.Registry
	}
	factory := promauto.With(registerer)

	s := &Server{
		logger:  logger.With("component", "chatserver"),
		avatars: avatars,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomwire",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Currently open WebSocket connections.",
		}),
		messages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "roomwire",
			Subsystem: "server",
			Name:      "messages_total",
			Help:      "Chat messages accepted and broadcast.",
		}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws/chat/{room}/", s.handleWS)
	r.Get("/api/rooms/{room}/users", s.handleRoster)
	r.Post("/api/avatars/{username}", s.handleAvatarUpload)
	r.Get("/api/avatars/{username}", s.handleAvatarGet)
	s.router = r

	return s
}

// Handler exposes the server as an http.Handler for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until the context is canceled, then drains with a
// short shutdown grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) room(name string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		r = newRoom(name, s.logger)
		s.rooms[name] = r
	}
	return r
}

// lookupRoom returns an existing room without creating one.
func (s *Server) lookupRoom(name string) (*room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	return r, ok
}

func roomParam(r *http.Request) string {
	name := chi.URLParam(r, "room")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	name := roomParam(r)
	if name == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "room", name, "error", err)
		return
	}

	rm := s.room(name)
	m := &member{conn: conn, out: make(chan []byte, 64)}
	rm.join(m)
	s.connections.Inc()
	go m.writePump()

	defer func() {
		rm.leave(m)
		s.connections.Dec()
	}()

	conn.SetReadLimit(maxAvatarBytes)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		before := rm.messageCount()
		rm.handle(m, raw)
		if rm.messageCount() > before {
			s.messages.Inc()
		}
	}
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	name := roomParam(r)
	rm, ok := s.lookupRoom(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "room not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rm.roster())
}

func (s *Server) handleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		writeJSONError(w, http.StatusBadRequest, "username required")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	body := http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	if err := s.avatars.Put(r.Context(), username, contentType, body); err != nil {
		s.logger.Error("avatar upload failed", "username", username, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "avatar upload failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvatarGet(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if location, ok := s.avatars.URL(r.Context(), username); ok {
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	rc, contentType, err := s.avatars.Open(r.Context(), username)
	if err != nil {
		if errors.Is(err, ErrAvatarNotFound) {
			writeJSONError(w, http.StatusNotFound, "avatar not found")
			return
		}
		s.logger.Error("avatar read failed", "username", username, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "avatar read failed")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	io.Copy(w, rc)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
