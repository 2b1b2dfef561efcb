package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuctionEndedEvent_JSON(t *testing.T) {
	t.Parallel()

	require.True(t, AuctionActive.CanTransitionTo(AuctionEnded))

	winner := "user1"
	out, err := json.Marshal(AuctionEndedEvent{AuctionID: "auction1", WinnerID: &winner})
	require.NoError(t, err)
	require.JSONEq(t, `{"auctionId":"auction1","winnerId":"user1"}`, string(out))

	out, err = json.Marshal(AuctionEndedEvent{AuctionID: "auction2"})
	require.NoError(t, err)
	require.JSONEq(t, `{"auctionId":"auction2","winnerId":null}`, string(out))
}
