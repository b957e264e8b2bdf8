// Package bus is the in-process fan-out hub for push notifications. Each
// streaming client owns a buffered subscription; publishers never block.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/basket/genie/internal/otel"
)

const defaultBufferSize = 100

// Notification commands understood by the browser agenda view.
const (
	CommandAddEvent    = "add_event"
	CommandRemoveEvent = "remove_event"
)

// Notification is one push message, serialized as {"command","parameters"}.
type Notification struct {
	Command    string   `json:"command"`
	Parameters []string `json:"parameters"`
}

// Encode returns the JSON wire form.
func (n Notification) Encode() []byte {
	if n.Parameters == nil {
		n.Parameters = []string{}
	}
	b, _ := json.Marshal(n)
	return b
}

// Subscription represents an active subscriber.
type Subscription struct {
	id int
	ch chan Notification
}

// Ch returns the channel to receive notifications on. It is closed by
// Unsubscribe.
func (s *Subscription) Ch() <-chan Notification {
	return s.ch
}

// Forwarder receives every locally originated notification, e.g. to mirror
// it to other processes.
type Forwarder func(Notification)

// Hub is a concurrency-safe subscriber registry.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]*Subscription
	nextID  int
	forward Forwarder
	metrics *otel.Metrics
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		subs: make(map[int]*Subscription),
	}
}

// SetMetrics attaches delivered/dropped counters.
func (h *Hub) SetMetrics(m *otel.Metrics) {
	h.mu.Lock()
	h.metrics = m
	h.mu.Unlock()
}

// SetForwarder installs f as the mirror for Publish. Pass nil to remove it.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	h.forward = f
	h.mu.Unlock()
}

// Subscribe registers a new subscriber with a buffer of 100 notifications;
// a slow consumer misses notifications rather than stalling publishers.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id: h.nextID,
		ch: make(chan Notification, defaultBufferSize),
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// more than once and concurrently with Publish.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers n to every current subscriber, hands it to the
// forwarder, and returns how many subscribers accepted it.
func (h *Hub) Publish(n Notification) int {
	delivered := h.PublishLocal(n)
	h.mu.RLock()
	fwd := h.forward
	h.mu.RUnlock()
	if fwd != nil {
		fwd(n)
	}
	return delivered
}

// PublishLocal delivers n to local subscribers only.
func (h *Hub) PublishLocal(n Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- n:
			delivered++
		default:
			dropped++
		}
	}
	if h.metrics != nil {
		ctx := context.Background()
		attrs := metric.WithAttributes(otel.AttrCommand.String(n.Command))
		h.metrics.FanoutDelivered.Add(ctx, int64(delivered), attrs)
		if dropped > 0 {
			h.metrics.FanoutDropped.Add(ctx, int64(dropped), attrs)
		}
	}
	return delivered
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
