// Package server hosts the shared store: an in-memory key-value state
// served to game clients over websockets, with sqlite write-through so
// state survives restarts. The server holds no game logic at all; every
// rule runs client-side and the server only arbitrates compare-and-swap
// rounds.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"oxgame/internal/logger"
	"oxgame/internal/storage"
	"oxgame/internal/store"
)

// Server is the HTTP server.
type Server struct {
	mux *http.ServeMux
	mem *store.Memory
	db  *storage.Store // nil disables persistence
}

// New creates a server around mem. When db is non-nil every committed
// mutation is written through to it.
func New(mem *store.Memory, db *storage.Store) *Server {
	s := &Server{
		mux: http.NewServeMux(),
		mem: mem,
		db:  db,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// persist writes one committed mutation through to sqlite.
func (s *Server) persist(key string, value []byte) {
	if s.db == nil {
		return
	}
	var err error
	if value == nil {
		err = s.db.Delete(key)
	} else {
		err = s.db.Put(key, value)
	}
	if err != nil {
		logger.Error("persist key", "key", key, "error", err)
	}
}
