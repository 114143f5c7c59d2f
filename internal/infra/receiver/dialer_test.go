package receiver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T, pings chan<- struct{}) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		ws.SetPingHandler(func(data string) error {
			pings <- struct{}{}
			return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestDialer_RoundTrip(t *testing.T) {
	pings := make(chan struct{}, 1)
	srv := echoServer(t, pings)
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "https://")
	conn, err := NewDialer().Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send([]byte(`{"command":"play","requestId":0}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := conn.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	data, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(data) != `{"command":"play","requestId":0}` {
		t.Errorf("unexpected echo %s", data)
	}
	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Error("server never saw the ping")
	}
}

func TestDialer_CloseGracefullyEndsReceive(t *testing.T) {
	srv := echoServer(t, make(chan struct{}, 1))
	defer srv.Close()

	conn, err := NewDialer().Dial(context.Background(), strings.TrimPrefix(srv.URL, "https://"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.CloseGracefully(); err != nil {
		t.Fatalf("CloseGracefully: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := conn.Receive()
		done <- err
	}()
	select {
	case err := <-done:
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("expected normal closure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not end after close handshake")
	}
}

func TestDialer_Refused(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "https://")
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewDialer().Dial(ctx, addr); err == nil {
		t.Error("expected dial error")
	}
}
