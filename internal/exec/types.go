package exec

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Side int

const (
	SideAsk Side = -1
	SideBid Side = 1
)

func (s Side) String() string {
	switch s {
	case SideAsk:
		return "ask"
	case SideBid:
		return "bid"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

func (s Side) Valid() bool {
	return s == SideAsk || s == SideBid
}

type OrderID string

// Order is a post-only limit order request. Deadline is stamped by the gateway
// right before each submission attempt.
type Order struct {
	Symbol   string
	Side     Side
	Size     float64
	Price    float64
	Deadline time.Time
}

type Cancel struct {
	Symbol   string
	Side     Side
	OrderID  OrderID
	Deadline time.Time
}

// MarketOrder is a price-taking order. A nil OppositeBound means the quote amount
// is unbounded in the direction that lets the trade fill.
type MarketOrder struct {
	Symbol        string
	Side          Side
	Size          float64
	OppositeBound *float64
	Deadline      time.Time
}

// Channel is the raw remote-call surface of the venue. Implementations block until
// state-changing calls are confirmed and report rejections as *Error values.
type Channel interface {
	Submit(ctx context.Context, order Order) (OrderID, error)
	Cancel(ctx context.Context, cancel Cancel) error
	ListOpenOrders(ctx context.Context, symbol string, side Side) ([]OrderID, error)
	ShareMarkPrice(ctx context.Context, symbol string) (float64, error)
	EstimateTrade(ctx context.Context, order MarketOrder) error
	Trade(ctx context.Context, order MarketOrder) error
}

type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAlreadyFilled
	KindNotOwner
	KindNotFound
	KindNonceConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindAlreadyFilled:
		return "already_filled"
	case KindNotOwner:
		return "not_owner"
	case KindNotFound:
		return "not_found"
	case KindNonceConflict:
		return "nonce_conflict"
	default:
		return "other"
	}
}

type Error struct {
	Kind ErrorKind
	Err  error
}

func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the classified kind of err, KindOther when unclassified.
func KindOf(err error) ErrorKind {
	var venueErr *Error
	if errors.As(err, &venueErr) {
		return venueErr.Kind
	}
	return KindOther
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Retryable: IsNonceConflict}
}

func IsNonceConflict(err error) bool {
	return KindOf(err) == KindNonceConflict
}
