package gateway

import (
	"context"
	"log"
	"time"
)

// PubSubRouter manages the Redis PubSub subscription and routes messages
// to the broadcaster for fan-out to WebSocket clients.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// Run subscribes to the alert channel and the indicator pattern and
// resubscribes after connection loss. Blocks until ctx is cancelled.
func (r *PubSubRouter) Run(ctx context.Context) {
	for {
		r.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
			log.Println("[gateway] resubscribing to PubSub")
		}
	}
}

func (r *PubSubRouter) runOnce(ctx context.Context) {
	pubsub := r.hub.Rdb.PSubscribe(ctx, r.hub.alertChannel, indicatorChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("[gateway] subscribe failed: %v", err)
		return
	}
	log.Printf("[gateway] subscribed to %s and %s*", r.hub.alertChannel, indicatorChannelPrefix)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
