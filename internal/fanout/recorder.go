package fanout

import (
	"sync"

	"bidding-settlement/internal/models"
)

// Recorder is a Publisher that keeps every event in publish order.
// It backs tests of components that publish.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) PublishAuction(auctionID string, eventType models.EventType, payload any) {
	r.record(Event{Type: eventType, Channel: ChannelName(AuctionChannel, auctionID), Payload: payload})
}

func (r *Recorder) PublishUser(userID string, eventType models.EventType, payload any) {
	r.record(Event{Type: eventType, Channel: ChannelName(UserChannel, userID), Payload: payload})
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of one type on one channel, or on any channel when channel is empty
func (r *Recorder) OfType(eventType models.EventType, channel string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, ev := range r.events {
		if ev.Type == eventType && (channel == "" || ev.Channel == channel) {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}
