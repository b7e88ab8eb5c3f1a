// Package adminapi pushes cluster events (session join/leave, channel
// changes) to connected admin dashboards over a websocket, separate
// from the Mumble control protocol itself.
package adminapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one admin-facing notification, pushed to every subscriber
// as a JSON text frame.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Server upgrades /ws connections to websockets and fans out Events
// published via Broadcast to every currently connected subscriber.
type Server struct {
	addr string
	http *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// NewServer builds an admin push server listening on addr. CheckOrigin
// is permissive by default since the admin UI is typically same-origin
// behind a reverse proxy; callers needing stricter policy can set
// Server.upgrader.CheckOrigin directly before Start.
func NewServer(addr string) *Server {
	s := &Server{
		addr:    addr,
		clients: make(map[*websocket.Conn]chan Event),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and closes subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for conn, ch := range s.clients {
		close(ch)
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]chan Event)
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

// Broadcast queues event for delivery to every connected subscriber.
// A subscriber whose outbound queue is full is dropped rather than
// letting one slow admin connection stall cluster event delivery.
func (s *Server) Broadcast(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- event:
		default:
			log.Printf("adminapi: dropping slow subscriber %s", conn.RemoteAddr())
			close(ch)
			delete(s.clients, conn)
			conn.Close()
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("adminapi: upgrade failed: %v", err)
		return
	}

	ch := make(chan Event, 32)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	go s.writeLoop(conn, ch)
	s.readLoop(conn, ch)
}

func (s *Server) writeLoop(conn *websocket.Conn, ch chan Event) {
	for event := range ch {
		body, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

// readLoop discards inbound frames (this is a push-only feed) and
// blocks until the client disconnects, at which point it unregisters
// itself.
func (s *Server) readLoop(conn *websocket.Conn, ch chan Event) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[conn]; ok {
			delete(s.clients, conn)
			close(ch)
		}
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
