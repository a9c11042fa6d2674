package trade

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, h *WSHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		got := len(h.clients)
		h.mu.RUnlock()
		if got == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d connected clients", want)
}

func TestWSHub_BroadcastSurvivesClientDisconnect(t *testing.T) {
	hub := NewWSHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	stay := dialWS(t, srv)
	defer stay.Close()
	drop := dialWS(t, srv)
	waitForClients(t, hub, 2)

	// Tear down one client while broadcasts are in flight. The hub must
	// drop the dead connection without disturbing the other one.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			hub.Broadcast(WSMessage{Type: "settlement", AssetCode: "AAPL"})
		}
	}()
	drop.Close()
	wg.Wait()
	waitForClients(t, hub, 1)

	hub.Broadcast(WSMessage{Type: "settlement", AssetCode: "MSFT"})

	stay.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := stay.ReadMessage()
		if err != nil {
			t.Fatalf("surviving client lost its connection: %v", err)
		}
		if strings.Contains(string(data), "MSFT") {
			return
		}
	}
}
