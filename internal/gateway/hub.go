package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"

	"stock-sentinel/internal/markethours"
	"stock-sentinel/internal/model"
)

// indicatorChannelPrefix is the per-instrument indicator channel
// "pub:ind:{code}" published by the Redis writer.
const indicatorChannelPrefix = "pub:ind:"

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Options configures a Hub.
type Options struct {
	AlertChannel string // PubSub channel carrying alert JSON
	ReplaySize   int    // alert envelopes replayed to new clients (default 100)
}

// Hub manages WebSocket clients and Redis PubSub fan-out.
//   - PubSubRouter: Redis subscription + message routing
//   - Broadcaster: envelope construction + client-filtered fan-out
//   - ReplayBuffer: latest-N alerts for new and reconnecting clients
type Hub struct {
	Rdb goredis.UniversalClient

	alertChannel string
	replaySize   int

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64 // per-channel monotonic sequence numbers

	replay *ReplayBuffer

	// Sub-components
	Router      *PubSubRouter
	Broadcaster *Broadcaster
}

type latestEntry struct {
	Code string
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates a Hub. rdb may be nil when messages are fed through
// Broadcast directly.
func NewHub(rdb goredis.UniversalClient, opts Options) *Hub {
	if opts.AlertChannel == "" {
		opts.AlertChannel = "pub:alerts"
	}
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = 100
	}
	h := &Hub{
		Rdb:          rdb,
		alertChannel: opts.AlertChannel,
		replaySize:   opts.ReplaySize,
		clients:      make(map[*Client]bool),
		latest:       make(map[string]latestEntry),
		channelSeqs:  make(map[string]int64),
		replay:       NewReplayBuffer(opts.ReplaySize),
	}
	h.Router = NewPubSubRouter(h)
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Run starts the PubSub subscription loop. Blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.Rdb == nil {
		log.Println("[gateway] WARNING: no Redis client, PubSub disabled")
		<-ctx.Done()
		return
	}
	h.Router.Run(ctx)
}

// Seed fills the replay buffer with alerts from the live feed at startup.
// alerts must be oldest first.
func (h *Hub) Seed(alerts []model.Alert) {
	for _, a := range alerts {
		h.Broadcast(h.alertChannel, a.JSON())
	}
	if len(alerts) > 0 {
		log.Printf("[gateway] seeded replay buffer with %d alerts", len(alerts))
	}
}

// Broadcast delegates to Broadcaster.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.Broadcaster.Broadcast(channel, data)
}

// HandleWS upgrades the request and registers the client.
// Query parameters:
//
//	codes  comma-separated instrument codes to watch (default: all)
//	since  last alert seq seen; only newer replayed alerts are sent
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		since, _ = strconv.ParseInt(s, 10, 64)
	}
	h.register(conn, parseCodes(r.URL.Query().Get("codes")), since)
}

// ServeHTTP makes the hub mountable at /ws/alerts.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.HandleWS(w, r) }

func (h *Hub) register(conn *websocket.Conn, codes []string, since int64) *Client {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	client.setCodes(codes)

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(since)
	go client.writePump()
	go client.readPump()
	return client
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the last global sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// StartStatusBroadcast sends the market status to all WS clients every
// interval. Blocks until ctx is cancelled.
func (h *Hub) StartStatusBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastStatus(time.Now())
		}
	}
}

func (h *Hub) broadcastStatus(now time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	envelope, _ := json.Marshal(map[string]interface{}{
		"type":         "status",
		"marketOpen":   markethours.IsTradingTime(now),
		"marketStatus": markethours.StatusString(now),
		"clients":      len(h.clients),
		"seq":          h.seq,
	})
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
		}
	}
}

func parseCodes(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
