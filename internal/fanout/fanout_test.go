package fanout

import (
	"fmt"
	"testing"
	"time"

	"bidding-settlement/internal/models"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event on %s", s.Channel())
		return Event{}
	}
}

func TestHub_RoutesByChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub(2, 8)
	defer hub.Close()

	auctionSub := hub.SubscribeAuction("auction1")
	otherAuction := hub.SubscribeAuction("auction2")
	userSub := hub.SubscribeUser("user1")

	hub.PublishAuction("auction1", models.EventBidAccepted, models.BidAcceptedEvent{BidID: "bid1", AuctionID: "auction1"})
	hub.PublishUser("user1", models.EventWalletChanged, models.WalletChangedEvent{UserID: "user1", Reason: models.ReasonBlocked})

	ev := receive(t, auctionSub)
	require.Equal(t, models.EventBidAccepted, ev.Type)
	require.Equal(t, "auction:auction1", ev.Channel)
	require.Equal(t, "bid1", ev.Payload.(models.BidAcceptedEvent).BidID)

	ev = receive(t, userSub)
	require.Equal(t, models.EventWalletChanged, ev.Type)
	require.Equal(t, "user:user1", ev.Channel)

	select {
	case ev := <-otherAuction.Events():
		t.Fatalf("unexpected event on auction2: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PreservesOrderPerChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub(4, 256)
	defer hub.Close()

	sub := hub.SubscribeAuction("auction1")
	for i := 0; i < 100; i++ {
		hub.PublishAuction("auction1", models.EventBidAccepted, models.BidAcceptedEvent{BidID: fmt.Sprint(i)})
	}

	for i := 0; i < 100; i++ {
		ev := receive(t, sub)
		require.Equal(t, fmt.Sprint(i), ev.Payload.(models.BidAcceptedEvent).BidID)
	}
}

func TestHub_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	hub := NewHub(1, 1)
	slow := hub.SubscribeUser("user1")
	fast := hub.SubscribeUser("user2")

	for i := 0; i < 10; i++ {
		hub.PublishUser("user1", models.EventWalletChanged, i)
	}
	hub.PublishUser("user2", models.EventWalletChanged, "ok")

	ev := receive(t, fast)
	require.Equal(t, "ok", ev.Payload)

	hub.Close()

	var got []Event
	for ev := range slow.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
}

func TestHub_MissedEventsAreNotRedelivered(t *testing.T) {
	t.Parallel()

	hub := NewHub(1, 1)
	sub := hub.SubscribeUser("user1")
	other := hub.SubscribeUser("user2")

	for i := 0; i < 5; i++ {
		hub.PublishUser("user1", models.EventWalletChanged, i)
	}
	// one worker delivers in order, so this arrives after the drops
	hub.PublishUser("user2", models.EventWalletChanged, "sync")
	require.Equal(t, "sync", receive(t, other).Payload)
	require.Equal(t, 0, receive(t, sub).Payload)

	hub.PublishUser("user1", models.EventWalletChanged, 5)
	require.Equal(t, 5, receive(t, sub).Payload)

	hub.Close()
	for ev := range sub.Events() {
		t.Fatalf("unexpected redelivery of %v", ev.Payload)
	}
}

func TestHub_CloseSubscription(t *testing.T) {
	t.Parallel()

	hub := NewHub(1, 4)
	defer hub.Close()

	sub := hub.SubscribeAuction("auction1")
	require.Equal(t, 1, hub.Subscribers("auction:auction1"))

	sub.Close()
	sub.Close()
	require.Equal(t, 0, hub.Subscribers("auction:auction1"))

	_, ok := <-sub.Events()
	require.False(t, ok)

	hub.PublishAuction("auction1", models.EventAuctionEnded, nil)
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(1, 4)
	hub.Close()

	sub := hub.SubscribeUser("user1")
	_, ok := <-sub.Events()
	require.False(t, ok)

	hub.PublishUser("user1", models.EventWalletChanged, nil)
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewRecorder()
	rec.PublishAuction("a1", models.EventBidAccepted, 1)
	rec.PublishUser("u1", models.EventWalletChanged, 2)
	rec.PublishAuction("a1", models.EventAuctionEnded, 3)

	require.Len(t, rec.Events(), 3)
	require.Len(t, rec.OfType(models.EventBidAccepted, ""), 1)
	require.Len(t, rec.OfType(models.EventWalletChanged, "user:u1"), 1)
	require.Empty(t, rec.OfType(models.EventWalletChanged, "user:u2"))
}
