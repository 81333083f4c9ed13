// Package display exposes the engine to external status surfaces: a
// WebSocket broadcast hub for the current question and streamed reply
// chunks, plus a transcript backup writer.
package display

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/niama/aiko/internal/store"
)

// Update is one observer-facing event.
type Update struct {
	// Type is "question" for a newly selected representative question or
	// "delta" for an incremental reply chunk.
	Type string `json:"type"`
	Text string `json:"text"`
}

// Hub broadcasts updates to every connected observer. It centralizes
// write-error handling so the publishing side stays small.
type Hub struct {
	store store.Store

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
}

// NewHub returns a Hub serving the given backlog store on its HTTP surface.
func NewHub(s store.Store) *Hub {
	return &Hub{
		store: s,
		conns: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// PublishQuestion implements turn.Publisher.
func (h *Hub) PublishQuestion(q string) {
	h.broadcast(Update{Type: "question", Text: q})
}

// PublishDelta implements turn.Publisher.
func (h *Hub) PublishDelta(chunk string) {
	h.broadcast(Update{Type: "delta", Text: chunk})
}

func (h *Hub) broadcast(u Update) {
	data, err := json.Marshal(u)
	if err != nil {
		return
	}
	h.mu.Lock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "display").Msg("observer write failed, dropping connection")
			delete(h.conns, conn)
			conn.Close()
		}
	}
	h.mu.Unlock()
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Handler returns the HTTP surface: /ws for the live update stream,
// /records for the backlog, /stats for counts.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/records", h.handleRecords)
	mux.HandleFunc("/stats", h.handleStats)
	return mux
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "display").Msg("observer upgrade failed")
		return
	}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	// Observers only listen; the read loop just detects closes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.conns, conn)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (h *Hub) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// Serve runs the HTTP surface until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("component", "display").Str("addr", addr).Msg("observer surface listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
