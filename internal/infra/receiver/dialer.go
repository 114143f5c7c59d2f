// Package receiver opens the secure WebSocket link to a playback receiver.
package receiver

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/connect"
)

const (
	handshakeTimeout = 5 * time.Second
	writeWait        = 2 * time.Second
)

// Dialer connects to receivers over wss. Receivers present self-signed
// certificates, so verification is off.
type Dialer struct {
	dialer *websocket.Dialer
}

// NewDialer creates a receiver dialer.
func NewDialer() *Dialer {
	return &Dialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
	}
}

// Dial opens wss://addr.
func (d *Dialer) Dial(ctx context.Context, addr string) (connect.Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, "wss://"+addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{ws: ws}, nil
}

// Conn wraps a websocket connection. gorilla allows one concurrent writer,
// so writes are serialized.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// Send writes one text frame.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks for the next frame.
func (c *Conn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Ping sends a ping control frame.
func (c *Conn) Ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// CloseGracefully sends a close frame. The peer's reply ends Receive.
func (c *Conn) CloseGracefully() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close drops the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
