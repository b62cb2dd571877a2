package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"QuantaCasino/internal/game"
	"QuantaCasino/internal/observability"
	"QuantaCasino/internal/withdraw"
)

const (
	feedWriteWait  = 5 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
	feedClientBuf  = 32
)

// FeedMessage is one JSON message on the live feed.
type FeedMessage struct {
	Type      string      `json:"type"` // round | deposit | withdrawal
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// feedClient is one connected socket. All writes to the connection happen
// on its write pump, fed through the buffered send channel; the hub never
// writes to a socket directly, so a stalled peer cannot block it.
type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed is the broadcast-only WebSocket hub: settled rounds, credited
// deposits and withdrawal transitions fan out to every connected client.
// Slow clients are dropped rather than ever blocking settlement.
type Feed struct {
	mu         sync.RWMutex
	clients    map[*feedClient]bool
	broadcast  chan []byte
	register   chan *feedClient
	unregister chan *feedClient
	log        zerolog.Logger
	metrics    *observability.Metrics
}

func NewFeed(metrics *observability.Metrics) *Feed {
	return &Feed{
		clients:    make(map[*feedClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		log:        observability.NewLogger("feed"),
		metrics:    metrics,
	}
}

// Run drives the hub loop. Must be called in a goroutine.
func (f *Feed) Run() {
	for {
		select {
		case client := <-f.register:
			f.mu.Lock()
			f.clients[client] = true
			n := len(f.clients)
			f.mu.Unlock()
			f.setClientGauge(n)

		case client := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				close(client.send)
			}
			n := len(f.clients)
			f.mu.Unlock()
			f.setClientGauge(n)

		case msg := <-f.broadcast:
			f.mu.Lock()
			for client := range f.clients {
				select {
				case client.send <- msg:
				default:
					// Send buffer full: the peer stopped reading.
					delete(f.clients, client)
					close(client.send)
				}
			}
			n := len(f.clients)
			f.mu.Unlock()
			f.setClientGauge(n)
		}
	}
}

func (f *Feed) setClientGauge(n int) {
	if f.metrics != nil {
		f.metrics.WSClients.Set(float64(n))
	}
}

func (f *Feed) clientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) send(typ string, payload interface{}) {
	data, err := json.Marshal(FeedMessage{
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	select {
	case f.broadcast <- data:
	default:
		if f.metrics != nil {
			f.metrics.EventsDropped.Inc()
		}
	}
}

// RoundSettled implements game.Sink.
func (f *Feed) RoundSettled(r *game.Round) {
	f.send("round", map[string]interface{}{
		"round_id":   r.ID,
		"game":       r.Game,
		"stake_mqc":  r.StakeMQC,
		"payout_mqc": r.PayoutMQC,
		"win":        r.Win,
		"state":      r.State.String(),
	})
}

// DepositCredited implements deposit.Notifier.
func (f *Feed) DepositCredited(signature string, account uuid.UUID, amountMQC int64) {
	f.send("deposit", map[string]interface{}{
		"signature":  signature,
		"account":    account,
		"amount_mqc": amountMQC,
	})
}

// WithdrawalChanged implements withdraw.Notifier.
func (f *Feed) WithdrawalChanged(w *withdraw.PendingWithdrawal) {
	f.send("withdrawal", map[string]interface{}{
		"withdrawal_id": w.ID,
		"state":         w.State,
		"amount_mqc":    w.AmountMQC,
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS upgrades GET /v1/ws connections onto the feed.
func (f *Feed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	client := &feedClient{conn: conn, send: make(chan []byte, feedClientBuf)}
	f.register <- client
	go f.writePump(client)
	go f.readPump(client)
}

// writePump is the connection's only writer. Every write carries a
// deadline; a write that cannot complete in time kills the connection
// instead of parking the goroutine on a dead peer.
func (f *Feed) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				// The hub dropped this client.
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump detects disconnects and discards client frames.
func (f *Feed) readPump(c *feedClient) {
	defer func() { f.unregister <- c }()
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
