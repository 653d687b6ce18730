package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
)

// Server hosts one conversation session per websocket connection.
type Server struct {
	upgrader    websocket.Upgrader
	streamer    domain.TurnStreamer
	sessionOpts []usecase.SessionOption
	hub         *Hub
}

func NewServer(streamer domain.TurnStreamer, opts ...usecase.SessionOption) *Server {
	return &Server{
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		streamer:    streamer,
		sessionOpts: opts,
		hub:         NewHub(),
	}
}

func (s *Server) GetHub() *Hub {
	return s.hub
}

// Shutdown tells every client the server is going away and disconnects them.
func (s *Server) Shutdown() {
	payload, _ := json.Marshal(Frame{Type: FrameServerShutdown})
	s.hub.Broadcast(payload)
	s.hub.DrainAll()
}
