// Package socketio provides the Socket.io endpoint status observers attach to.
package socketio

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/status"
)

// Event names.
const (
	EventPushStatus = "pushStatus"
	EventGetStatus  = "getStatus"
)

// Hub is the status hub observers attach to.
type Hub interface {
	Subscribe(observer status.Observer, remoteIP, deviceID string) string
	Refresh(id string)
	Unsubscribe(id string)
}

// StatusPush is the pushStatus event body.
type StatusPush struct {
	UUID   string          `json:"uuid"`
	Status json.RawMessage `json:"status"`
}

// Server handles Socket.io connections and events.
type Server struct {
	io      *socket.Server
	hub     Hub
	mu      sync.RWMutex
	clients map[string]string // socket id -> observer id
}

// NewServer creates a new Socket.io server attached to hub.
func NewServer(hub Hub) (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, opts),
		hub:     hub,
		clients: make(map[string]string),
	}

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remote := remoteIP(client.Handshake().Address)

		obs := &observer{client: client}
		observerID := s.hub.Subscribe(obs, remote, "")

		s.mu.Lock()
		s.clients[clientID] = observerID
		s.mu.Unlock()

		log.Info().Str("id", clientID).Str("remote", remote).Msg("Client connected")

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			obs.gone.Store(true)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			s.hub.Unsubscribe(observerID)
		})

		client.On(EventGetStatus, func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getStatus")
			s.hub.Refresh(observerID)
		})
	})
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.io.Close(nil)
	return nil
}

// observer forwards hub snapshots to one socket.
type observer struct {
	client *socket.Socket
	gone   atomic.Bool
}

func (o *observer) Deliver(deviceID string, payload []byte) error {
	o.client.Emit(EventPushStatus, StatusPush{UUID: deviceID, Status: payload})
	return nil
}

// Close disconnects the client unless it already left.
func (o *observer) Close() error {
	if o.gone.CompareAndSwap(false, true) {
		o.client.Disconnect(true)
	}
	return nil
}

// remoteIP strips an optional port from a socket address.
func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
