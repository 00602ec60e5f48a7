package strategy

import (
	"context"
	"errors"
	"fmt"

	"perpdex-mm-bot/internal/config"
	"perpdex-mm-bot/internal/indicator"
	"perpdex-mm-bot/internal/market"

	"go.uber.org/zap"
)

// Simple quotes a fixed distance around the last traded price.
type Simple struct {
	oracle PriceOracle
	diff   float64
	log    *zap.Logger
}

func NewSimple(oracle PriceOracle, diff float64, log *zap.Logger) *Simple {
	if log == nil {
		log = zap.NewNop()
	}
	return &Simple{oracle: oracle, diff: diff, log: log}
}

func (s *Simple) AskBidPrices(ctx context.Context) (float64, float64, error) {
	ltp, err := s.oracle.LastPrice(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("last price: %w", err)
	}
	s.log.Debug("simple band", zap.Float64("ltp", ltp), zap.Float64("diff", s.diff))
	return ltp + s.diff, ltp - s.diff, nil
}

// RollingBand quotes around the rolling mean of candle closes, k sample standard
// deviations wide.
type RollingBand struct {
	candles    CandleSource
	timeperiod int
	k          float64
	log        *zap.Logger
}

func NewRollingBand(candles CandleSource, timeperiod int, k float64, log *zap.Logger) *RollingBand {
	if log == nil {
		log = zap.NewNop()
	}
	return &RollingBand{candles: candles, timeperiod: timeperiod, k: k, log: log}
}

func (r *RollingBand) AskBidPrices(ctx context.Context) (float64, float64, error) {
	candles, err := r.candles.OHLCV(ctx, r.timeperiod)
	if err != nil {
		return 0, 0, fmt.Errorf("candles: %w", err)
	}
	series := market.SeriesOf(candles)
	mean, std, err := indicator.MeanStd(series.Close, r.timeperiod)
	if err != nil {
		return 0, 0, fmt.Errorf("rolling band: %w", err)
	}
	diff := std * r.k
	r.log.Debug("rolling band", zap.Float64("mean", mean), zap.Float64("std", std), zap.Float64("diff", diff))
	return mean + diff, mean - diff, nil
}

// ATRBand spreads k average true ranges around the ATR value itself. The band is
// centered on the ATR, not on price; callers rely on the ltp clamp to land quotes
// on the right side of the market.
type ATRBand struct {
	candles    CandleSource
	timeperiod int
	k          float64
	log        *zap.Logger
}

func NewATRBand(candles CandleSource, timeperiod int, k float64, log *zap.Logger) *ATRBand {
	if log == nil {
		log = zap.NewNop()
	}
	return &ATRBand{candles: candles, timeperiod: timeperiod, k: k, log: log}
}

func (a *ATRBand) AskBidPrices(ctx context.Context) (float64, float64, error) {
	candles, err := a.candles.OHLCV(ctx, a.timeperiod+1)
	if err != nil {
		return 0, 0, fmt.Errorf("candles: %w", err)
	}
	series := market.SeriesOf(candles)
	atr, err := indicator.ATR(series.High, series.Low, series.Close, a.timeperiod)
	if err != nil {
		return 0, 0, fmt.Errorf("atr band: %w", err)
	}
	diff := atr * a.k
	a.log.Debug("atr band", zap.Float64("atr", atr), zap.Float64("diff", diff))
	return atr + diff, atr - diff, nil
}

// NewPriceCalculator selects the price strategy named by cfg.Kind.
func NewPriceCalculator(cfg config.PriceConfig, oracle PriceOracle, candles CandleSource, log *zap.Logger) (PriceCalculator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Kind {
	case config.PriceKindSimple:
		if oracle == nil {
			return nil, errors.New("simple price strategy requires a price oracle")
		}
		return NewSimple(oracle, cfg.Diff, log.Named("simple")), nil
	case config.PriceKindRollingBand:
		if candles == nil {
			return nil, errors.New("rolling band strategy requires a candle source")
		}
		return NewRollingBand(candles, cfg.TimePeriod, cfg.DiffK, log.Named("rolling_band")), nil
	case config.PriceKindATRBand:
		if candles == nil {
			return nil, errors.New("atr band strategy requires a candle source")
		}
		return NewATRBand(candles, cfg.TimePeriod, cfg.DiffK, log.Named("atr_band")), nil
	default:
		return nil, fmt.Errorf("unknown price strategy %q", cfg.Kind)
	}
}
