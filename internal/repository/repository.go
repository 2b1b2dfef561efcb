package repository

//go:generate mockgen -destination=mock_repository.go -package=repository bidding-settlement/internal/repository AuctionDB,NotificationDB

import (
	"bidding-settlement/internal/biddingerrors"
	model "bidding-settlement/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AuctionDB defines the auction and bid storage used by the bidding core
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	// ListAuctionsDue returns pending auctions whose start time has passed, or
	// active auctions whose end time has passed, depending on status.
	ListAuctionsDue(ctx context.Context, status model.AuctionStatus, now time.Time) ([]model.Auction, error)
	// TransitionStatus moves the auction from -> to only if it is still in from.
	TransitionStatus(ctx context.Context, auctionID string, from, to model.AuctionStatus) (bool, error)
	// CloseAuction moves an active auction to ended and records the winner.
	CloseAuction(ctx context.Context, auctionID string, winnerID *string) (bool, error)
	// RecordBid stores the bid and sets the auction's current bid, provided the
	// auction is still active at expectedVersion.
	RecordBid(ctx context.Context, bid model.Bid, expectedVersion int64) (model.Auction, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetHighestBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
}

// WalletDB is the backing store of the ledger. Only the ledger may call the mutating methods.
type WalletDB interface {
	CreateWallet(ctx context.Context, userID string) (model.Wallet, error)
	GetWallet(ctx context.Context, userID string) (model.Wallet, error)
	// AdjustBalance adds delta to the balance, refusing to go below zero.
	AdjustBalance(ctx context.Context, userID string, delta model.Money) (model.Wallet, error)
	// MoveToHold moves delta from the balance into the user's hold on an auction.
	// A negative delta moves funds back from the hold to the balance.
	MoveToHold(ctx context.Context, auctionID, userID string, delta model.Money) (model.Wallet, model.Hold, error)
	GetHold(ctx context.Context, auctionID, userID string) (model.Hold, error)
	ListHoldsByUser(ctx context.Context, userID string) ([]model.Hold, error)
	ListHoldsByAuction(ctx context.Context, auctionID string) ([]model.Hold, error)
}

// NotificationDB stores settlement notifications
type NotificationDB interface {
	// CreateNotification inserts n unless one already exists for the same
	// user, auction and kind; in that case the existing one is returned with created=false.
	CreateNotification(ctx context.Context, n model.Notification) (stored model.Notification, created bool, err error)
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// Store bundles every persistence contract of the bidding core
type Store interface {
	AuctionDB
	WalletDB
	NotificationDB
}

// SortLeaderboard orders bids by amount descending, most recent first among ties
func SortLeaderboard(bids []model.Bid) {
	sort.SliceStable(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].CreatedAt.After(bids[j].CreatedAt)
	})
}

type holdKey struct {
	auctionID string
	userID    string
}

type notificationKey struct {
	userID    string
	auctionID string
	kind      model.NotificationKind
}

// MemoryRepo is a concurrency-safe in-memory implementation of Store
type MemoryRepo struct {
	mu            sync.RWMutex
	auctions      map[string]model.Auction            // key: auctionID -> value: auction
	bids          map[string][]model.Bid              // key: auctionID -> value: bids in insertion order
	userAuctions  map[string][]string                 // key: userID -> value: auctionIDs the user has bid on
	wallets       map[string]model.Wallet             // key: userID -> value: wallet
	holds         map[holdKey]model.Money             // key: (auctionID, userID) -> value: blocked amount
	notifications map[string][]model.Notification     // key: userID -> value: notifications in insertion order
	notifKeys     map[notificationKey]model.Notification
	now           func() time.Time
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:      make(map[string]model.Auction),
		bids:          make(map[string][]model.Bid),
		userAuctions:  make(map[string][]string),
		wallets:       make(map[string]model.Wallet),
		holds:         make(map[holdKey]model.Money),
		notifications: make(map[string][]model.Notification),
		notifKeys:     make(map[notificationKey]model.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction id", biddingerrors.ErrInvalidAuction)
	}
	if _, exists := r.auctions[auction.AuctionID]; exists {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.AuctionID, biddingerrors.ErrInvalidAuction)
	}
	r.auctions[auction.AuctionID] = cloneAuction(auction)
	return nil
}

// GetAuction returns the auction by id
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return cloneAuction(a), nil
}

// ListAuctionsDue returns auctions in status whose start (pending) or end (active) time is at or before now
func (r *MemoryRepo) ListAuctionsDue(_ context.Context, status model.AuctionStatus, now time.Time) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []model.Auction
	for _, a := range r.auctions {
		if a.Status != status {
			continue
		}
		switch status {
		case model.AuctionPending:
			if !a.StartTime.After(now) {
				due = append(due, cloneAuction(a))
			}
		case model.AuctionActive:
			if !a.EndTime.After(now) {
				due = append(due, cloneAuction(a))
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndTime.Before(due[j].EndTime) })
	return due, nil
}

// TransitionStatus performs a guarded status change
func (r *MemoryRepo) TransitionStatus(_ context.Context, auctionID string, from, to model.AuctionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, biddingerrors.ErrInvalidTransition)
	}
	a, ok := r.auctions[auctionID]
	if !ok {
		return false, fmt.Errorf("transition auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.Version++
	r.auctions[auctionID] = a
	return true, nil
}

// CloseAuction ends an active auction and records its winner
func (r *MemoryRepo) CloseAuction(_ context.Context, auctionID string, winnerID *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[auctionID]
	if !ok {
		return false, fmt.Errorf("close auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Status != model.AuctionActive {
		return false, nil
	}
	a.Status = model.AuctionEnded
	if winnerID != nil {
		w := *winnerID
		a.WinnerID = &w
	}
	a.Version++
	r.auctions[auctionID] = a
	return true, nil
}

// RecordBid records a user's bid and advances the auction's current bid
func (r *MemoryRepo) RecordBid(_ context.Context, bid model.Bid, expectedVersion int64) (model.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[bid.AuctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if a.Version != expectedVersion || a.Status != model.AuctionActive {
		return model.Auction{}, fmt.Errorf("record bid for auction %s at version %d: %w", bid.AuctionID, expectedVersion, biddingerrors.ErrVersionConflict)
	}

	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)

	amount := bid.Amount
	a.CurrentBid = &amount
	a.Version++
	r.auctions[bid.AuctionID] = a

	for _, id := range r.userAuctions[bid.UserID] {
		if id == bid.AuctionID {
			return cloneAuction(a), nil
		}
	}
	r.userAuctions[bid.UserID] = append(r.userAuctions[bid.UserID], bid.AuctionID)

	return cloneAuction(a), nil
}

// GetBidsByAuction returns the auction's leaderboard
func (r *MemoryRepo) GetBidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids, ok := r.bids[auctionID]
	if !ok || len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	out := append([]model.Bid(nil), bids...)
	SortLeaderboard(out)
	return out, nil
}

// GetHighestBid returns the first entry of the leaderboard
func (r *MemoryRepo) GetHighestBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids, ok := r.bids[auctionID]
	if !ok || len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	highest := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > highest.Amount || (b.Amount == highest.Amount && b.CreatedAt.After(highest.CreatedAt)) {
			highest = b
		}
	}
	return highest, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByUser(_ context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs, ok := r.userAuctions[userID]
	if !ok || len(auctionIDs) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if a, exists := r.auctions[id]; exists {
			auctions = append(auctions, cloneAuction(a))
		}
	}
	return auctions, nil
}

// CreateWallet returns the user's wallet, creating an empty one on first use
func (r *MemoryRepo) CreateWallet(_ context.Context, userID string) (model.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID == "" {
		return model.Wallet{}, fmt.Errorf("create wallet: %w - empty user id", biddingerrors.ErrUserNotFound)
	}
	if w, ok := r.wallets[userID]; ok {
		return w, nil
	}
	w := model.Wallet{UserID: userID, UpdatedAt: r.now()}
	r.wallets[userID] = w
	return w, nil
}

// GetWallet returns the user's wallet
func (r *MemoryRepo) GetWallet(_ context.Context, userID string) (model.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.wallets[userID]
	if !ok {
		return model.Wallet{}, fmt.Errorf("get wallet %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	return w, nil
}

// AdjustBalance applies delta to the wallet balance
func (r *MemoryRepo) AdjustBalance(_ context.Context, userID string, delta model.Money) (model.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[userID]
	if !ok {
		return model.Wallet{}, fmt.Errorf("adjust balance %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	if w.Balance+delta < 0 {
		return model.Wallet{}, fmt.Errorf("adjust balance %s by %s: %w", userID, delta, biddingerrors.ErrInsufficientFunds)
	}
	w.Balance += delta
	w.UpdatedAt = r.now()
	r.wallets[userID] = w
	return w, nil
}

// MoveToHold moves funds between the balance and the user's hold on an auction
func (r *MemoryRepo) MoveToHold(_ context.Context, auctionID, userID string, delta model.Money) (model.Wallet, model.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[userID]
	if !ok {
		return model.Wallet{}, model.Hold{}, fmt.Errorf("move to hold %s: %w", userID, biddingerrors.ErrUserNotFound)
	}
	key := holdKey{auctionID: auctionID, userID: userID}
	held := r.holds[key]

	if w.Balance-delta < 0 {
		return model.Wallet{}, model.Hold{}, fmt.Errorf("move %s to hold on %s for %s: %w", delta, auctionID, userID, biddingerrors.ErrInsufficientFunds)
	}
	if held+delta < 0 {
		return model.Wallet{}, model.Hold{}, fmt.Errorf("release %s from hold on %s for %s: %w - only %s held", -delta, auctionID, userID, biddingerrors.ErrInvalidAmount, held)
	}

	w.Balance -= delta
	w.UpdatedAt = r.now()
	r.wallets[userID] = w

	held += delta
	if held == 0 {
		delete(r.holds, key)
	} else {
		r.holds[key] = held
	}
	return w, model.Hold{AuctionID: auctionID, UserID: userID, Amount: held}, nil
}

// GetHold returns the user's hold on an auction; a missing hold is a zero hold
func (r *MemoryRepo) GetHold(_ context.Context, auctionID, userID string) (model.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return model.Hold{AuctionID: auctionID, UserID: userID, Amount: r.holds[holdKey{auctionID: auctionID, userID: userID}]}, nil
}

// ListHoldsByUser returns every non-zero hold of a user
func (r *MemoryRepo) ListHoldsByUser(_ context.Context, userID string) ([]model.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var holds []model.Hold
	for k, amount := range r.holds {
		if k.userID == userID {
			holds = append(holds, model.Hold{AuctionID: k.auctionID, UserID: k.userID, Amount: amount})
		}
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].AuctionID < holds[j].AuctionID })
	return holds, nil
}

// ListHoldsByAuction returns every non-zero hold on an auction, ordered by user
func (r *MemoryRepo) ListHoldsByAuction(_ context.Context, auctionID string) ([]model.Hold, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var holds []model.Hold
	for k, amount := range r.holds {
		if k.auctionID == auctionID {
			holds = append(holds, model.Hold{AuctionID: k.auctionID, UserID: k.userID, Amount: amount})
		}
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].UserID < holds[j].UserID })
	return holds, nil
}

// CreateNotification stores a notification once per (user, auction, kind)
func (r *MemoryRepo) CreateNotification(_ context.Context, n model.Notification) (model.Notification, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := notificationKey{userID: n.UserID, auctionID: n.AuctionID, kind: n.Kind}
	if existing, ok := r.notifKeys[key]; ok {
		return existing, false, nil
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	r.notifKeys[key] = n
	r.notifications[n.UserID] = append(r.notifications[n.UserID], n)
	return n, true, nil
}

// ListNotifications returns a user's notifications, newest first
func (r *MemoryRepo) ListNotifications(_ context.Context, userID string) ([]model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.notifications[userID]
	out := make([]model.Notification, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

// MarkNotificationRead flags one of the user's notifications as read
func (r *MemoryRepo) MarkNotificationRead(_ context.Context, userID, notificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.notifications[userID]
	for i := range list {
		if list[i].NotificationID != notificationID {
			continue
		}
		list[i].Read = true
		key := notificationKey{userID: userID, auctionID: list[i].AuctionID, kind: list[i].Kind}
		r.notifKeys[key] = list[i]
		return nil
	}
	return fmt.Errorf("mark notification %s read: %w", notificationID, biddingerrors.ErrNotificationNotFound)
}

// AddAuction adds an auction to the repository, replacing any existing one. This method is intended for tests and seeding.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = cloneAuction(auction)
}

// SetBalance creates or overwrites a wallet. This method is intended for tests and seeding.
func (r *MemoryRepo) SetBalance(userID string, balance model.Money) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[userID] = model.Wallet{UserID: userID, Balance: balance, UpdatedAt: r.now()}
}

func cloneAuction(a model.Auction) model.Auction {
	if a.CurrentBid != nil {
		v := *a.CurrentBid
		a.CurrentBid = &v
	}
	if a.WinnerID != nil {
		v := *a.WinnerID
		a.WinnerID = &v
	}
	return a
}
