package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrInsufficientCandles = errors.New("insufficient candles")

type KlineFetcher interface {
	Klines(ctx context.Context, pair, interval string, limit int) ([]Candle, error)
}

// Stream is a subscribable frame source such as a websocket client.
type Stream interface {
	Subscribe(ctx context.Context, sub any) error
	Run(ctx context.Context, handler func([]byte)) error
}

// ParseFunc decodes one stream frame into a candle and reports whether the candle
// is closed.
type ParseFunc func([]byte) (Candle, bool, error)

type FeedOptions struct {
	Pair       string
	Interval   string
	Limit      int
	StaleAfter time.Duration
	// OnClosed is called outside the lock for every candle the stream reports
	// as closed.
	OnClosed func(Candle)
}

// CandleFeed serves OHLCV history. It is seeded over REST and kept current by an
// optional stream; when the stream goes quiet for StaleAfter the next read
// refetches over REST.
type CandleFeed struct {
	fetcher KlineFetcher
	opts    FeedOptions
	now     func() time.Time
	log     *zap.Logger

	mu      sync.Mutex
	candles []Candle
	updated time.Time
	live    bool
}

func NewCandleFeed(fetcher KlineFetcher, opts FeedOptions, log *zap.Logger) *CandleFeed {
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CandleFeed{fetcher: fetcher, opts: opts, now: time.Now, log: log}
}

// OHLCV returns at least minLength candles, oldest first.
func (f *CandleFeed) OHLCV(ctx context.Context, minLength int) ([]Candle, error) {
	if f.fresh() {
		out := f.snapshot()
		if len(out) >= minLength {
			return out, nil
		}
	}
	limit := f.opts.Limit
	if minLength > limit {
		limit = minLength
	}
	candles, err := f.fetcher.Klines(ctx, f.opts.Pair, f.opts.Interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch klines: %w", err)
	}
	f.mu.Lock()
	f.candles = append([]Candle(nil), candles...)
	f.updated = f.now()
	f.mu.Unlock()
	if len(candles) < minLength {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCandles, len(candles), minLength)
	}
	return append([]Candle(nil), candles...), nil
}

// Apply merges one streamed candle: same start replaces the last bar, a newer
// start appends.
func (f *CandleFeed) Apply(c Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.candles)
	switch {
	case n > 0 && f.candles[n-1].Start.Equal(c.Start):
		f.candles[n-1] = c
	case n == 0 || c.Start.After(f.candles[n-1].Start):
		f.candles = append(f.candles, c)
		if len(f.candles) > f.opts.Limit {
			f.candles = append([]Candle(nil), f.candles[len(f.candles)-f.opts.Limit:]...)
		}
	default:
		return
	}
	f.updated = f.now()
	f.live = true
}

// Run seeds the buffer and then follows stream until ctx ends.
func (f *CandleFeed) Run(ctx context.Context, stream Stream, sub any, parse ParseFunc) error {
	if _, err := f.OHLCV(ctx, 0); err != nil {
		f.log.Warn("candle seed failed", zap.Error(err))
	}
	if err := stream.Subscribe(ctx, sub); err != nil {
		return fmt.Errorf("subscribe candles: %w", err)
	}
	return stream.Run(ctx, func(data []byte) {
		candle, closed, err := parse(data)
		if err != nil {
			f.log.Debug("candle frame skipped", zap.Error(err))
			return
		}
		f.Apply(candle)
		if closed && f.opts.OnClosed != nil {
			f.opts.OnClosed(candle)
		}
	})
}

func (f *CandleFeed) fresh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live && f.now().Sub(f.updated) < f.opts.StaleAfter
}

func (f *CandleFeed) snapshot() []Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Candle(nil), f.candles...)
}
