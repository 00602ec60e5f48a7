package maker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"perpdex-mm-bot/internal/exec"
	"perpdex-mm-bot/internal/metrics"
	"perpdex-mm-bot/internal/state"
	"perpdex-mm-bot/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Gateway interface {
	CancelAllOrders(ctx context.Context, symbol string) error
	PostLimitOrder(ctx context.Context, symbol string, side exec.Side, size, price float64) (exec.OrderID, error)
}

// Cycle is the outcome of one completed Execute.
type Cycle struct {
	ID         string
	Symbol     string
	Started    time.Time
	Duration   time.Duration
	LastPrice  float64
	RawAsk     float64
	RawBid     float64
	AskPrice   float64
	BidPrice   float64
	AskSize    float64
	BidSize    float64
	// Order ids are venue order ids, or transaction hashes when the venue
	// emitted no creation event. Hash ids are not cancellable; the next cycle's
	// cancel-all clears those orders by listing the book.
	AskOrderID exec.OrderID
	BidOrderID exec.OrderID
}

type Recorder interface {
	RecordCycle(c Cycle)
}

type Options struct {
	Symbol   string
	Tick     float64
	Store    state.Store
	Recorder Recorder
	Metrics  *metrics.Metrics
}

// MarketMaker runs one quote refresh per Execute: price, clamp, cancel all,
// size, then post ask and bid.
type MarketMaker struct {
	symbol   string
	tick     float64
	price    strategy.PriceCalculator
	size     strategy.SizeCalculator
	oracle   strategy.PriceOracle
	gateway  Gateway
	store    state.Store
	recorder Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
	log      *zap.Logger
}

func New(price strategy.PriceCalculator, size strategy.SizeCalculator, oracle strategy.PriceOracle, gateway Gateway, opts Options, log *zap.Logger) (*MarketMaker, error) {
	if price == nil || size == nil || oracle == nil || gateway == nil {
		return nil, errors.New("price, size, oracle and gateway are required")
	}
	if opts.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if opts.Tick <= 0 {
		return nil, fmt.Errorf("tick must be > 0, got %v", opts.Tick)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MarketMaker{
		symbol:   opts.Symbol,
		tick:     opts.Tick,
		price:    price,
		size:     size,
		oracle:   oracle,
		gateway:  gateway,
		store:    opts.Store,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      log,
	}, nil
}

// Clamp moves ask to at least ltp+tick and bid to at most ltp-tick.
func Clamp(ask, bid, ltp, tick float64) (float64, float64) {
	return math.Max(ltp+tick, ask), math.Min(ltp-tick, bid)
}

func (m *MarketMaker) Execute(ctx context.Context) error {
	cycle, err := m.execute(ctx)
	if err != nil {
		m.metrics.CyclesFailed.Inc()
		return err
	}
	m.metrics.CyclesCompleted.Inc()
	m.persist(ctx, cycle)
	return nil
}

func (m *MarketMaker) execute(ctx context.Context) (Cycle, error) {
	cycle := Cycle{ID: m.newID(), Symbol: m.symbol, Started: m.now()}
	log := m.log.With(zap.String("cycle_id", cycle.ID), zap.String("symbol", m.symbol))

	ask, bid, err := m.price.AskBidPrices(ctx)
	if err != nil {
		return cycle, fmt.Errorf("cycle %s: prices: %w", cycle.ID, err)
	}
	askSize, bidSize, err := m.size.AskBidSizes(ctx)
	if err != nil {
		return cycle, fmt.Errorf("cycle %s: sizes: %w", cycle.ID, err)
	}
	ltp, err := m.oracle.LastPrice(ctx)
	if err != nil {
		return cycle, fmt.Errorf("cycle %s: last price: %w", cycle.ID, err)
	}
	log.Debug("quote before clamp",
		zap.Float64("ltp", ltp),
		zap.Float64("ask", ask),
		zap.Float64("bid", bid),
		zap.Float64("ask_size", askSize),
		zap.Float64("bid_size", bidSize),
	)
	cycle.LastPrice, cycle.RawAsk, cycle.RawBid = ltp, ask, bid
	ask, bid = Clamp(ask, bid, ltp, m.tick)
	log.Debug("quote after clamp", zap.Float64("ask", ask), zap.Float64("bid", bid))
	cycle.AskPrice, cycle.BidPrice = ask, bid

	if err := m.gateway.CancelAllOrders(ctx, m.symbol); err != nil {
		return cycle, fmt.Errorf("cycle %s: cancel all: %w", cycle.ID, err)
	}

	// fills may land while cancelling
	askSize, bidSize, err = m.size.AskBidSizes(ctx)
	if err != nil {
		return cycle, fmt.Errorf("cycle %s: sizes: %w", cycle.ID, err)
	}
	cycle.AskSize, cycle.BidSize = askSize, bidSize
	log.Debug("quote sizes", zap.Float64("ask_size", askSize), zap.Float64("bid_size", bidSize))

	cycle.AskOrderID, err = m.gateway.PostLimitOrder(ctx, m.symbol, exec.SideAsk, askSize, ask)
	if err != nil {
		return cycle, fmt.Errorf("cycle %s: %w", cycle.ID, err)
	}
	cycle.BidOrderID, err = m.gateway.PostLimitOrder(ctx, m.symbol, exec.SideBid, bidSize, bid)
	if err != nil {
		return cycle, fmt.Errorf("cycle %s: %w", cycle.ID, err)
	}
	cycle.Duration = m.now().Sub(cycle.Started)
	log.Info("quotes posted",
		zap.Float64("ask", ask),
		zap.Float64("ask_size", askSize),
		zap.Float64("bid", bid),
		zap.Float64("bid_size", bidSize),
		zap.Duration("elapsed", cycle.Duration),
	)
	return cycle, nil
}

func (m *MarketMaker) persist(ctx context.Context, cycle Cycle) {
	if m.recorder != nil {
		m.recorder.RecordCycle(cycle)
	}
	if m.store == nil {
		return
	}
	snap := state.QuoteSnapshot{
		CycleID:     cycle.ID,
		Symbol:      cycle.Symbol,
		LastPrice:   cycle.LastPrice,
		AskPrice:    cycle.AskPrice,
		BidPrice:    cycle.BidPrice,
		AskSize:     cycle.AskSize,
		BidSize:     cycle.BidSize,
		AskOrderID:  string(cycle.AskOrderID),
		BidOrderID:  string(cycle.BidOrderID),
		UpdatedAtMS: m.now().UnixMilli(),
	}
	if err := state.SaveQuoteSnapshot(ctx, m.store, snap); err != nil {
		m.log.Warn("quote snapshot save failed", zap.String("cycle_id", cycle.ID), zap.Error(err))
	}
}
