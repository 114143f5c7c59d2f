package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edumarques81/stellar-connect-streamer/internal/domain/status"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitCount(t *testing.T, hub *status.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d observers, got %d", want, hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandler_StreamsDeviceStatus(t *testing.T) {
	hub := status.NewHub()
	defer hub.Close()
	hub.Publish("dev1", map[string]string{"state": "PAUSED"})

	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "?uuid=dev1")
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(data) != `{"state":"PAUSED"}` {
		t.Errorf("unexpected snapshot %s", data)
	}

	hub.Publish("dev2", map[string]string{"state": "STOPPED"})
	hub.Publish("dev1", map[string]string{"state": "PLAYING"})

	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	if string(data) != `{"state":"PLAYING"}` {
		t.Errorf("expected only dev1 frames, got %s", data)
	}
}

func TestHandler_DisconnectUnsubscribes(t *testing.T) {
	hub := status.NewHub()
	defer hub.Close()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHandler_HubCloseEndsStream(t *testing.T) {
	hub := status.NewHub()
	srv := httptest.NewServer(NewHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	waitCount(t, hub, 1)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure, got %v", err)
	}
}
