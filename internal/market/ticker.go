package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type MarkPriceSource interface {
	MarkPrice(ctx context.Context) (float64, error)
}

// Ticker caches the venue mark price and refreshes it at most once per limit.
type Ticker struct {
	source MarkPriceSource
	limit  time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu      sync.Mutex
	price   float64
	updated time.Time
}

func NewTicker(source MarkPriceSource, limit time.Duration, log *zap.Logger) *Ticker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ticker{source: source, limit: limit, now: time.Now, log: log}
}

// LastPrice returns the cached mark price, refreshing it once it is older than
// limit. The lock is not held during the remote call, so concurrent callers never
// wait on each other's RPC.
func (t *Ticker) LastPrice(ctx context.Context) (float64, error) {
	if price, ok := t.cached(); ok {
		return price, nil
	}
	price, err := t.source.MarkPrice(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.price = price
	t.updated = t.now()
	t.mu.Unlock()
	t.log.Debug("mark price updated", zap.Float64("price", price))
	return price, nil
}

func (t *Ticker) cached() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.updated.IsZero() || t.now().Sub(t.updated) >= t.limit {
		return 0, false
	}
	return t.price, true
}

// BidPrice and AskPrice are the mark price; the venue exposes no top of book.
func (t *Ticker) BidPrice(ctx context.Context) (float64, error) {
	return t.LastPrice(ctx)
}

func (t *Ticker) AskPrice(ctx context.Context) (float64, error) {
	return t.LastPrice(ctx)
}
