package strategy

import (
	"context"

	"perpdex-mm-bot/internal/market"
)

type PriceOracle interface {
	LastPrice(ctx context.Context) (float64, error)
}

type CandleSource interface {
	OHLCV(ctx context.Context, minLength int) ([]market.Candle, error)
}

type PositionReader interface {
	CurrentPosition(ctx context.Context) (float64, error)
}

// PriceCalculator produces the raw ask and bid prices of one quote cycle, before
// any clamping against the last traded price.
type PriceCalculator interface {
	AskBidPrices(ctx context.Context) (ask, bid float64, err error)
}

type SizeCalculator interface {
	AskBidSizes(ctx context.Context) (askSize, bidSize float64, err error)
}
