// internal/realtime/bridge.go

package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBridge republishes broadcasts through redis pub/sub so that
// every process in the deployment delivers to its local sessions.
// It satisfies Broadcaster and wraps a local registry.
type RedisBridge struct {
	client  *redis.Client
	local   *Registry
	channel string
}

type bridgeFrame struct {
	Group string `json:"group"`
	Event Event  `json:"event"`
}

// Event carries its payload pre-flattened on the wire, so the frame
// re-wraps it for transport between processes.
func (f *bridgeFrame) UnmarshalJSON(data []byte) error {
	var raw struct {
		Group string          `json:"group"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Group = raw.Group

	var envelope struct {
		Type      string    `json:"type"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(raw.Event, &envelope); err != nil {
		return err
	}
	f.Event = Event{Type: envelope.Type, Data: raw.Event, Timestamp: envelope.Timestamp}
	return nil
}

// NewRedisBridge creates a bridge publishing on the given channel
func NewRedisBridge(client *redis.Client, local *Registry, channel string) *RedisBridge {
	return &RedisBridge{
		client:  client,
		local:   local,
		channel: channel,
	}
}

// Broadcast publishes the event for every process, this one included.
// Delivery to local sessions happens when the subscription loop
// receives the frame back, keeping single- and multi-process paths
// identical.
func (b *RedisBridge) Broadcast(group string, event Event) {
	frame, err := json.Marshal(bridgeFrame{Group: group, Event: event})
	if err != nil {
		log.Printf("Error marshalling bridge frame: %v", err)
		return
	}

	if err := b.client.Publish(context.Background(), b.channel, frame).Err(); err != nil {
		log.Printf("Bridge publish failed, delivering locally only: %v", err)
		b.local.Broadcast(group, event)
	}
}

// Run subscribes to the bridge channel and fans received frames out
// to local sessions. Blocks until the context is cancelled.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	log.Printf("Broadcast bridge subscribed to %s", b.channel)

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Printf("Error unmarshalling bridge frame: %v", err)
				continue
			}
			b.local.Broadcast(frame.Group, frame.Event)

		case <-ctx.Done():
			return
		}
	}
}
