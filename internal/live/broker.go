package live

import (
	"encoding/json"
	"sync"
)

// Event names pushed to live subscribers.
const (
	EventTelemetry = "telemetry"
	EventPresence  = "presence"
)

// Event is one framed message for the live stream.
type Event struct {
	Name string
	Data []byte
}

// Broker fans out persisted-batch and presence-change events to connected
// clients. Slow clients drop events rather than block a flush cycle.
type Broker struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
}

// NewBroker constructs a broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan Event]struct{})}
}

// Publish serializes payload and broadcasts it under the given event name.
func (b *Broker) Publish(name string, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	b.broadcast(Event{Name: name, Data: data})
}

// Subscribe registers a new client channel.
func (b *Broker) Subscribe() chan Event {
	if b == nil {
		return nil
	}
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel. The channel is never closed:
// broadcast sends outside the lock, so a close here could race a concurrent
// publish into a panic. Departed channels are simply unreferenced.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
}

func (b *Broker) broadcast(event Event) {
	b.mu.Lock()
	clients := make([]chan Event, 0, len(b.clients))
	for ch := range b.clients {
		clients = append(clients, ch)
	}
	b.mu.Unlock()
	for _, ch := range clients {
		select {
		case ch <- event:
		default:
		}
	}
}
