package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"QuantaCasino/internal/game"
)

func waitForClients(t *testing.T, f *Feed, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.clientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count stuck at %d, want %d", f.clientCount(), want)
}

func TestFeed_BroadcastsToConnectedClient(t *testing.T) {
	feed := NewFeed(nil)
	go feed.Run()

	srv := httptest.NewServer(http.HandlerFunc(feed.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, feed, 1)

	feed.DepositCredited("sig-live", uuid.New(), 5_000)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg FeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "deposit" {
		t.Errorf("message type: got %q, want deposit", msg.Type)
	}

	conn.Close()
	waitForClients(t, feed, 0)
}

// A peer that stops reading fills its send buffer; the hub must shed it
// without ever writing to the socket from the hub goroutine.
func TestFeed_SlowClientDropped(t *testing.T) {
	feed := NewFeed(nil)
	go feed.Run()

	stuck := &feedClient{send: make(chan []byte, 1)}
	feed.register <- stuck
	waitForClients(t, feed, 1)

	round := &game.Round{ID: uuid.New(), Game: game.Dice, State: game.StateSettled}
	feed.RoundSettled(round) // fills the one-slot buffer
	feed.RoundSettled(round) // overflows it
	waitForClients(t, feed, 0)

	// The dropped client's channel is closed, not left dangling.
	select {
	case <-stuck.send:
	case <-time.After(time.Second):
		t.Fatal("send channel never drained")
	}
}
