// Package ws serves raw status frames over a plain WebSocket: every frame is
// the full status JSON of one device.
package ws

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/status"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the status hub observers attach to.
type Hub interface {
	Subscribe(observer status.Observer, remoteIP, deviceID string) string
	Unsubscribe(id string)
}

// Handler upgrades /ws requests. ?uuid= limits frames to one device.
type Handler struct {
	hub Hub
}

// NewHandler creates a websocket status handler.
func NewHandler(hub Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	obs := &observer{conn: conn}
	id := h.hub.Subscribe(obs, remote, r.URL.Query().Get("uuid"))

	// Drain until the peer goes away; clients never send anything we use.
	go func() {
		defer h.hub.Unsubscribe(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type observer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (o *observer) Deliver(deviceID string, payload []byte) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if err := o.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return o.conn.WriteMessage(websocket.TextMessage, payload)
}

func (o *observer) Close() error {
	o.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = o.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	o.writeMu.Unlock()
	return o.conn.Close()
}
