package account

import (
	"context"
	"fmt"
	"time"

	"perpdex-mm-bot/internal/state"

	"go.uber.org/zap"
)

type PositionSource interface {
	Position(ctx context.Context) (float64, error)
}

// PositionReader reports the signed position in base units, positive long.
type PositionReader struct {
	source PositionSource
}

func NewPositionReader(source PositionSource) *PositionReader {
	return &PositionReader{source: source}
}

func (r *PositionReader) CurrentPosition(ctx context.Context) (float64, error) {
	pos, err := r.source.Position(ctx)
	if err != nil {
		return 0, fmt.Errorf("position: %w", err)
	}
	return pos, nil
}

type InfoSource interface {
	PositionSource
	AccountValue(ctx context.Context) (float64, error)
	UnitLeverageLot(ctx context.Context) (float64, error)
}

type PriceOracle interface {
	LastPrice(ctx context.Context) (float64, error)
}

// Snapshot is one diagnostics reading of the account.
type Snapshot struct {
	Time            time.Time
	Symbol          string
	Position        float64
	AccountValue    float64
	UnitLeverageLot float64
	MarkPrice       float64
	LastQuote       *state.QuoteSnapshot
}

type Recorder interface {
	RecordInfo(snap Snapshot)
}

// InfoLogger reads account diagnostics and logs them. It has no side effects on
// orders.
type InfoLogger struct {
	symbol   string
	source   InfoSource
	oracle   PriceOracle
	store    state.Store
	recorder Recorder
	now      func() time.Time
	log      *zap.Logger
}

type InfoOptions struct {
	Symbol   string
	Store    state.Store
	Recorder Recorder
}

func NewInfoLogger(source InfoSource, oracle PriceOracle, opts InfoOptions, log *zap.Logger) *InfoLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &InfoLogger{
		symbol:   opts.Symbol,
		source:   source,
		oracle:   oracle,
		store:    opts.Store,
		recorder: opts.Recorder,
		now:      time.Now,
		log:      log,
	}
}

func (l *InfoLogger) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Time: l.now().UTC(), Symbol: l.symbol}
	var err error
	if snap.Position, err = l.source.Position(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("position: %w", err)
	}
	if snap.AccountValue, err = l.source.AccountValue(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("account value: %w", err)
	}
	if snap.UnitLeverageLot, err = l.source.UnitLeverageLot(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("unit leverage lot: %w", err)
	}
	if l.oracle != nil {
		if snap.MarkPrice, err = l.oracle.LastPrice(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("mark price: %w", err)
		}
	}
	quote, ok, err := state.LoadQuoteSnapshot(ctx, l.store, l.symbol)
	if err != nil {
		l.log.Warn("quote snapshot unavailable", zap.Error(err))
	} else if ok {
		snap.LastQuote = &quote
	}
	return snap, nil
}

// Log is the InfoTask callback.
func (l *InfoLogger) Log(ctx context.Context) error {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("symbol", snap.Symbol),
		zap.Float64("position", snap.Position),
		zap.Float64("account_value", snap.AccountValue),
		zap.Float64("unit_leverage_lot", snap.UnitLeverageLot),
		zap.Float64("mark_price", snap.MarkPrice),
	}
	if q := snap.LastQuote; q != nil {
		fields = append(fields,
			zap.String("last_cycle_id", q.CycleID),
			zap.Float64("last_ask", q.AskPrice),
			zap.Float64("last_bid", q.BidPrice),
			zap.Time("last_quote_at", time.UnixMilli(q.UpdatedAtMS).UTC()),
		)
	}
	l.log.Info("account info", fields...)
	if l.recorder != nil {
		l.recorder.RecordInfo(snap)
	}
	return nil
}
