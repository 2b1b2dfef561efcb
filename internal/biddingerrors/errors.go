package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound      = errors.New("auction not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNoBids               = errors.New("no bids found for auction")
	ErrUserNoBids           = errors.New("user has not placed any bids")
	ErrVersionConflict      = errors.New("auction was modified concurrently")
	ErrInvalidTransition    = errors.New("invalid auction status transition")
)

// business logic errors
var (
	ErrInvalidBid         = errors.New("invalid bid")
	ErrInvalidAuction     = errors.New("invalid auction")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAuctionNotStarted  = errors.New("auction has not started")
	ErrAuctionEnded       = errors.New("auction has ended")
	ErrBidTooLow          = errors.New("bid amount too low")
	ErrSelfRaiseNotHigher = errors.New("new bid must be higher than your previous bid")
	ErrInsufficientFunds  = errors.New("insufficient wallet balance")
	ErrInvalidRequest     = errors.New("invalid request payload")
)

// Kind groups errors by how callers should react to them
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

// KindOf classifies err. Anything unrecognised is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuctionNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrNotificationNotFound),
		errors.Is(err, ErrNoBids),
		errors.Is(err, ErrUserNoBids):
		return KindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrVersionConflict):
		return KindConflict
	case errors.Is(err, ErrInvalidBid),
		errors.Is(err, ErrInvalidAuction),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrAuctionNotStarted),
		errors.Is(err, ErrAuctionEnded),
		errors.Is(err, ErrBidTooLow),
		errors.Is(err, ErrSelfRaiseNotHigher),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidRequest):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the operation lost a concurrency race and may be retried
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
