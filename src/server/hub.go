package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop. It owns the client set; session
// state lives in the session manager.
func (s *APIServer) handleWebsockets() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.finish()
				s.Sessions.Disconnect(client.id)
			}

		case <-s.done:
			for client := range s.clients {
				client.finish()
				client.Terminate()
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) registerClient(c *Client) bool {
	select {
	case s.register <- c:
		return true
	case <-s.done:
		return false
	}
}

func (s *APIServer) unregisterClient(c *Client) {
	select {
	case s.unregister <- c:
	case <-s.done:
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := newClient(uuid.NewString(), s, conn, s.Config.Sessions.SendBuffer)
	if !s.registerClient(client) {
		conn.Close()
		return
	}
	// registered before the read pump can deliver a message
	s.Sessions.Connect(client)
	s.Logger.Info("WS new connection %s from %s", client.id, c.ClientIP())

	go client.writePump()
	go client.readPump()
}
