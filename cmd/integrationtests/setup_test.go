package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	bidding "bidding-settlement/internal/biddingService"
	"bidding-settlement/internal/clock"
	"bidding-settlement/internal/fanout"
	"bidding-settlement/internal/keylock"
	"bidding-settlement/internal/ledger"
	"bidding-settlement/internal/lifecycle"
	model "bidding-settlement/internal/models"
	"bidding-settlement/internal/repository"
	"bidding-settlement/internal/server"

	"github.com/gin-gonic/gin"
)

var baseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// TestEnv is a fully wired in-memory application
type TestEnv struct {
	Router  *gin.Engine
	Repo    *repository.MemoryRepo
	Clock   *clock.Manual
	Sweeper *lifecycle.Sweeper
}

// SetupTestEnv wires the router, sweeper and in-memory store, seeding the given auctions and balances.
func SetupTestEnv(t *testing.T, auctions []model.Auction, balances map[string]model.Money) *TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}
	for user, bal := range balances {
		repo.SetBalance(user, bal)
	}

	hub := fanout.NewHub(2, 16)
	t.Cleanup(hub.Close)

	clk := clock.NewManual(baseTime)
	locks := keylock.New()
	l := ledger.New(repo, hub)

	service := bidding.NewBiddingService(repo, repo, l,
		bidding.WithClock(clk),
		bidding.WithPublisher(hub),
		bidding.WithAuctionLocks(locks),
	)
	sweeper := lifecycle.NewSweeper(repo, repo, l,
		lifecycle.WithClock(clk),
		lifecycle.WithPublisher(hub),
		lifecycle.WithAuctionLocks(locks),
	)

	return &TestEnv{
		Router:  server.SetupRouter(service, hub, time.Second),
		Repo:    repo,
		Clock:   clk,
		Sweeper: sweeper,
	}
}

// ActiveAuction returns an auction open for an hour around baseTime
func ActiveAuction(id string, startPrice model.Money) model.Auction {
	return model.Auction{
		AuctionID:  id,
		SellerID:   "seller1",
		Title:      "title " + id,
		StartPrice: startPrice,
		StartTime:  baseTime.Add(-time.Hour),
		EndTime:    baseTime.Add(time.Hour),
		Status:     model.AuctionActive,
		CreatedAt:  baseTime.Add(-2 * time.Hour),
	}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}
