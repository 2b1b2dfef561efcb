package handler

import (
	"io"
	"time"

	"bidding-settlement/internal/fanout"
	"bidding-settlement/utils"

	"github.com/gin-gonic/gin"
)

const defaultHeartbeat = 15 * time.Second

// EventSource hands out fanout subscriptions
type EventSource interface {
	SubscribeAuction(auctionID string) *fanout.Subscription
	SubscribeUser(userID string) *fanout.Subscription
}

// StreamHandler pushes fanout events to HTTP clients as server-sent events
type StreamHandler struct {
	source    EventSource
	heartbeat time.Duration
}

func NewStreamHandler(source EventSource, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &StreamHandler{source: source, heartbeat: heartbeat}
}

// AuctionEventsHandler handles GET /auctions/:auction_id/events
func (h *StreamHandler) AuctionEventsHandler(c *gin.Context) {
	h.stream(c, h.source.SubscribeAuction(c.Param("auction_id")))
}

// UserEventsHandler handles GET /users/:user_id/events
func (h *StreamHandler) UserEventsHandler(c *gin.Context) {
	h.stream(c, h.source.SubscribeUser(c.Param("user_id")))
}

func (h *StreamHandler) stream(c *gin.Context, sub *fanout.Subscription) {
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	utils.Info("StreamHandler: subscriber connected", map[string]any{"channel": sub.Channel()})

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC().Format(time.RFC3339)})
			return true
		}
	})

	utils.Info("StreamHandler: subscriber disconnected", map[string]any{"channel": sub.Channel()})
}
