package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Watched instrument codes; empty means all.
	mu    sync.RWMutex
	codes map[string]bool
}

// controlMsg is a client → server message.
//
//	{"type":"SUBSCRIBE","codes":["600519"]}
//	{"type":"UNSUBSCRIBE","codes":["600519"]}
//	{"ping":1700000000000}
type controlMsg struct {
	Type  string   `json:"type"`
	Codes []string `json:"codes"`
	Ping  int64    `json:"ping"`
}

func (c *Client) setCodes(codes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = make(map[string]bool, len(codes))
	for _, code := range codes {
		c.codes[code] = true
	}
}

// watches reports whether messages for code should reach this client.
// Messages without an instrument go to everyone.
func (c *Client) watches(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.codes) == 0 || code == "" || c.codes[code]
}

// sendInitialState queues the replayed alerts newer than since, followed by
// the latest indicator snapshot of every watched instrument.
func (c *Client) sendInitialState(since int64) {
	for _, e := range c.hub.replay.Latest(c.hub.replaySize, since, c.watches) {
		select {
		case c.send <- e.Data:
		default:
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !c.watches(entry.Code) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"code":    entry.Code,
			"data":    entry.Data,
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.subscribe(msg.Codes)
		case "UNSUBSCRIBE":
			c.unsubscribe(msg.Codes)
		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

func (c *Client) subscribe(codes []string) {
	c.mu.Lock()
	for _, code := range codes {
		c.codes[code] = true
	}
	n := len(c.codes)
	c.mu.Unlock()
	c.ack("subscribed", n)
}

func (c *Client) unsubscribe(codes []string) {
	c.mu.Lock()
	for _, code := range codes {
		delete(c.codes, code)
	}
	n := len(c.codes)
	c.mu.Unlock()
	c.ack("unsubscribed", n)
}

func (c *Client) ack(kind string, watching int) {
	data, _ := json.Marshal(map[string]interface{}{"type": kind, "watching": watching})
	// send may already be closed if the hub dropped us.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
