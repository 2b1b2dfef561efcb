// Package fanout distributes bid, wallet and settlement events to subscribers
// of per-auction and per-user channels.
//
// Delivery is at most once per subscriber. Events are not persisted, and a
// subscriber whose buffer is full misses the event instead of stalling the
// publisher. The store stays the source of truth: a client that reconnects or
// suspects a gap reloads state through the REST reads and dedupes events by id.
package fanout

import (
	"sync"

	"bidding-settlement/internal/metrics"
	"bidding-settlement/internal/models"
	"bidding-settlement/internal/worker"
)

// ChannelKind is either the auction or the user channel family
type ChannelKind string

const (
	AuctionChannel ChannelKind = "auction"
	UserChannel    ChannelKind = "user"
)

// Event is the envelope delivered to subscribers
type Event struct {
	Type    models.EventType `json:"type"`
	Channel string           `json:"channel"`
	Payload any              `json:"payload"`
}

// Publisher is what the bidding core needs from the fanout
type Publisher interface {
	PublishAuction(auctionID string, eventType models.EventType, payload any)
	PublishUser(userID string, eventType models.EventType, payload any)
}

// ChannelName builds the channel key for a kind and id, e.g. "auction:42"
func ChannelName(kind ChannelKind, id string) string {
	return string(kind) + ":" + id
}

// Subscription receives events of one channel until closed
type Subscription struct {
	channel string
	events  chan Event
	hub     *Hub
	once    sync.Once
}

// Events returns the receive side. It is closed when the subscription or hub closes.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Channel returns the subscribed channel name
func (s *Subscription) Channel() string {
	return s.channel
}

// Close unsubscribes and closes the events channel
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub is an in-process Publisher with per-channel subscriber sets
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	pool   *worker.Pool
	buffer int
	closed bool
}

// NewHub creates a hub delivering on workers goroutines; each subscriber buffers up to buffer events
func NewHub(workers, buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		pool:   worker.NewPool(workers, 4096),
		buffer: buffer,
	}
}

func (h *Hub) SubscribeAuction(auctionID string) *Subscription {
	return h.subscribe(ChannelName(AuctionChannel, auctionID))
}

func (h *Hub) SubscribeUser(userID string) *Subscription {
	return h.subscribe(ChannelName(UserChannel, userID))
}

func (h *Hub) PublishAuction(auctionID string, eventType models.EventType, payload any) {
	h.publish(AuctionChannel, auctionID, eventType, payload)
}

func (h *Hub) PublishUser(userID string, eventType models.EventType, payload any) {
	h.publish(UserChannel, userID, eventType, payload)
}

// Subscribers returns the number of live subscriptions on a channel
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close delivers everything already published, then closes every subscription
func (h *Hub) Close() {
	h.pool.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for channel, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.events) })
		}
		delete(h.subs, channel)
	}
}

func (h *Hub) subscribe(channel string) *Subscription {
	s := &Subscription{
		channel: channel,
		events:  make(chan Event, h.buffer),
		hub:     h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.events) })
		return s
	}
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.channel)
		}
	}
	s.once.Do(func() { close(s.events) })
}

func (h *Hub) publish(kind ChannelKind, id string, eventType models.EventType, payload any) {
	channel := ChannelName(kind, id)
	ev := Event{Type: eventType, Channel: channel, Payload: payload}

	metrics.EventsPublished.WithLabelValues(string(kind)).Inc()
	if !h.pool.Submit(channel, func() { h.deliver(ev) }) {
		metrics.EventsDropped.Inc()
		return
	}
	metrics.FanoutQueueDepth.Set(float64(h.pool.QueueDepth()))
}

// deliver sends under the read lock so a concurrent Close cannot close a channel mid-send
func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[ev.Channel] {
		select {
		case s.events <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// Nop discards every event
type Nop struct{}

func (Nop) PublishAuction(string, models.EventType, any) {}
func (Nop) PublishUser(string, models.EventType, any)    {}
