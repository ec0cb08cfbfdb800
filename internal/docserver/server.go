// Package docserver exposes a document store over HTTP with WebSocket
// change fan-out.
//
// The server is how multiple grind processes share one state: CLI
// invocations and long-running watchers connect through the remote
// docstore client, and every committed write is pushed back out to all
// watchers of that document - including the writer's own process, which
// is what makes the engine's echo suppression observable end to end.
//
// Endpoints:
//
//	GET    /v1/docs/{name}        read a document (404 when absent)
//	PUT    /v1/docs/{name}        replace, or merge with ?merge=1
//	PATCH  /v1/docs/{name}        field updates and deletes
//	GET    /v1/docs/{name}/watch  WebSocket snapshot stream
//	GET    /health                liveness and client count
package docserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/grindlog/grind/internal/docstore"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: ":7433").
	Addr string

	// Token, when set, is required as a bearer credential on every
	// request. Empty disables the check.
	Token string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":7433",
		Logger: log.Default(),
	}
}

// Server serves a document store over HTTP and pushes change snapshots
// to WebSocket watchers.
type Server struct {
	store    docstore.Store
	token    string
	addr     string
	listener net.Listener
	server   *http.Server

	// watchers maps document name -> connected clients.
	watchers   map[string]map[*websocket.Conn]bool
	watchersMu sync.RWMutex

	broadcast chan docstore.Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a document server over the given store.
func New(store docstore.Store, config *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	addr := config.Addr
	if addr == "" {
		addr = ":7433"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:     store,
		token:     config.Token,
		addr:      addr,
		watchers:  make(map[string]map[*websocket.Conn]bool),
		broadcast: make(chan docstore.Snapshot, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}, nil
}

// Start begins listening. It returns once the listener is bound; use
// Stop for graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/docs/{name}", s.auth(s.handleGet))
	mux.HandleFunc("PUT /v1/docs/{name}", s.auth(s.handlePut))
	mux.HandleFunc("PATCH /v1/docs/{name}", s.auth(s.handlePatch))
	mux.HandleFunc("GET /v1/docs/{name}/watch", s.auth(s.handleWatch))
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Document server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and closes all watchers.
func (s *Server) Stop() error {
	s.logger.Println("Stopping document server")

	s.cancel()

	s.watchersMu.Lock()
	for _, conns := range s.watchers {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		}
	}
	s.watchers = make(map[string]map[*websocket.Conn]bool)
	s.watchersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Println("Document server stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// WatcherCount returns the number of connected watch clients.
func (s *Server) WatcherCount() int {
	s.watchersMu.RLock()
	defer s.watchersMu.RUnlock()
	n := 0
	for _, conns := range s.watchers {
		n += len(conns)
	}
	return n
}

// auth wraps a handler with the optional bearer-token check.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	want := "Bearer " + s.token
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != want {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	doc, ok, err := s.store.Get(r.Context(), name)
	if err != nil {
		s.logger.Printf("Failed to read %s: %v", name, err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	mergeDoc := r.URL.Query().Get("merge") != ""

	var doc docstore.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "invalid document body", http.StatusBadRequest)
		return
	}

	if err := s.store.Set(r.Context(), name, doc, mergeDoc); err != nil {
		s.logger.Printf("Failed to write %s: %v", name, err)
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}

	s.pushSnapshot(r.Context(), name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req docstore.PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid patch body", http.StatusBadRequest)
		return
	}
	if len(req.Updates) == 0 && len(req.Deletes) == 0 {
		http.Error(w, "empty patch", http.StatusBadRequest)
		return
	}

	if len(req.Updates) > 0 {
		if err := s.store.UpdateFields(r.Context(), name, req.Updates); err != nil {
			s.logger.Printf("Failed to update fields of %s: %v", name, err)
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
	}
	for _, path := range req.Deletes {
		if err := s.store.DeleteField(r.Context(), name, path...); err != nil {
			s.logger.Printf("Failed to delete field of %s: %v", name, err)
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
	}

	s.pushSnapshot(r.Context(), name)
	w.WriteHeader(http.StatusNoContent)
}

// handleWatch upgrades the connection and streams snapshots for one
// document until the client goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.watchersMu.Lock()
	if s.watchers[name] == nil {
		s.watchers[name] = make(map[*websocket.Conn]bool)
	}
	s.watchers[name][conn] = true
	s.watchersMu.Unlock()

	s.logger.Printf("Watcher connected for %s (total: %d)", name, s.WatcherCount())

	go s.readLoop(name, conn)
}

// readLoop drains client frames and detects disconnects. Clients never
// send meaningful data on the watch socket.
func (s *Server) readLoop(name string, conn *websocket.Conn) {
	defer s.removeWatcher(name, conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeWatcher(name string, conn *websocket.Conn) {
	s.watchersMu.Lock()
	if _, exists := s.watchers[name][conn]; exists {
		delete(s.watchers[name], conn)
		s.watchersMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Watcher disconnected from %s (total: %d)", name, s.WatcherCount())
		return
	}
	s.watchersMu.Unlock()
}

// pushSnapshot reads back the document after a committed write and
// queues it for broadcast.
func (s *Server) pushSnapshot(ctx context.Context, name string) {
	snap := docstore.Snapshot{Doc: name}
	if doc, ok, err := s.store.Get(ctx, name); err == nil && ok {
		snap.Data = doc
		snap.Exists = true
	}

	select {
	case s.broadcast <- snap:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping snapshot")
	}
}

// broadcastLoop fans queued snapshots out to the document's watchers.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case snap := <-s.broadcast:
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Printf("Failed to marshal snapshot: %v", err)
				continue
			}

			s.watchersMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.watchers[snap.Doc]))
			for conn := range s.watchers[snap.Doc] {
				conns = append(conns, conn)
			}
			s.watchersMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.Printf("Failed to push snapshot: %v", err)
					s.removeWatcher(snap.Doc, conn)
				}
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"watchers": s.WatcherCount(),
	})
}
