package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"perpdex-mm-bot/internal/metrics"

	"go.uber.org/zap"
)

var ErrInvalidOrder = errors.New("invalid order")

const (
	defaultDeadlineWindow   = 2 * time.Minute
	defaultFeasibilityTries = 32
)

type Options struct {
	Retry            RetryPolicy
	DeadlineWindow   time.Duration
	FeasibilityTries int
	MaxSlippage      *float64
	Now              func() time.Time
}

// Gateway submits and cancels orders through a Channel. It keeps no state between
// calls apart from the channel itself.
type Gateway struct {
	channel Channel
	opts    Options
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(channel Channel, opts Options, m *metrics.Metrics, log *zap.Logger) *Gateway {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = IsNonceConflict
	}
	if opts.DeadlineWindow <= 0 {
		opts.DeadlineWindow = defaultDeadlineWindow
	}
	if opts.FeasibilityTries < 1 {
		opts.FeasibilityTries = defaultFeasibilityTries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{channel: channel, opts: opts, metrics: m, log: log}
}

// PostLimitOrder submits a post-only limit order and returns once the venue has
// confirmed it. A zero size is not submitted.
func (g *Gateway) PostLimitOrder(ctx context.Context, symbol string, side Side, size, price float64) (OrderID, error) {
	g.log.Info("post limit order",
		zap.String("symbol", symbol),
		zap.Stringer("side", side),
		zap.Float64("size", size),
		zap.Float64("price", price),
	)
	if err := validateLimit(side, size, price); err != nil {
		g.metrics.OrdersFailed.Inc()
		return "", err
	}
	if size == 0 {
		g.log.Debug("size is zero, skipping", zap.Stringer("side", side))
		return "", nil
	}
	order := Order{Symbol: symbol, Side: side, Size: size, Price: price}
	var orderID OrderID
	err := g.retry(ctx, "post_limit_order", func() error {
		order.Deadline = g.deadline()
		var err error
		orderID, err = g.channel.Submit(ctx, order)
		return err
	})
	if err != nil {
		g.metrics.OrdersFailed.Inc()
		return "", fmt.Errorf("post %s order: %w", side, err)
	}
	g.metrics.OrdersPosted.Inc()
	g.log.Debug("post limit order finished", zap.Stringer("side", side), zap.String("order_id", string(orderID)))
	return orderID, nil
}

// CancelLimitOrder cancels one resting order. Rejections saying the order is
// already filled, owned by someone else or gone are treated as success.
func (g *Gateway) CancelLimitOrder(ctx context.Context, symbol string, side Side, orderID OrderID) error {
	g.log.Debug("cancel limit order",
		zap.String("symbol", symbol),
		zap.Stringer("side", side),
		zap.String("order_id", string(orderID)),
	)
	cancel := Cancel{Symbol: symbol, Side: side, OrderID: orderID}
	err := g.retry(ctx, "cancel_limit_order", func() error {
		cancel.Deadline = g.deadline()
		return g.channel.Cancel(ctx, cancel)
	})
	if err == nil {
		g.metrics.OrdersCancelled.Inc()
		return nil
	}
	switch KindOf(err) {
	case KindAlreadyFilled:
		g.log.Info("order already fully filled", zap.String("order_id", string(orderID)))
	case KindNotOwner:
		g.log.Info("order is not ours", zap.String("order_id", string(orderID)))
	case KindNotFound:
		g.log.Info("order does not exist", zap.String("order_id", string(orderID)))
	case KindNonceConflict, KindOther:
		return fmt.Errorf("cancel %s order %s: %w", side, orderID, err)
	}
	g.metrics.CancelsAbsorbed.Inc()
	return nil
}

// CancelAllOrders cancels every resting order of ours on both sides of symbol,
// asks first.
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	for _, side := range []Side{SideAsk, SideBid} {
		ids, err := g.channel.ListOpenOrders(ctx, symbol, side)
		if err != nil {
			return fmt.Errorf("list %s orders: %w", side, err)
		}
		g.log.Debug("open orders", zap.Stringer("side", side), zap.Int("count", len(ids)))
		for _, id := range ids {
			if err := g.CancelLimitOrder(ctx, symbol, side, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// OpenOrders lists resting order ids per side. Read-only.
func (g *Gateway) OpenOrders(ctx context.Context, symbol string) (map[Side][]OrderID, error) {
	out := make(map[Side][]OrderID, 2)
	for _, side := range []Side{SideAsk, SideBid} {
		ids, err := g.channel.ListOpenOrders(ctx, symbol, side)
		if err != nil {
			return nil, fmt.Errorf("list %s orders: %w", side, err)
		}
		out[side] = ids
	}
	return out, nil
}

// PostMarketOrder takes liquidity for size. Each feasibility check that fails halves
// the size; the order is submitted once a check passes.
func (g *Gateway) PostMarketOrder(ctx context.Context, symbol string, side Side, size float64) error {
	g.log.Info("post market order", zap.String("symbol", symbol), zap.Stringer("side", side), zap.Float64("size", size))
	if !side.Valid() {
		return fmt.Errorf("%w: side %s", ErrInvalidOrder, side)
	}
	if !(size > 0) || math.IsInf(size, 0) {
		return fmt.Errorf("%w: size %v", ErrInvalidOrder, size)
	}
	sharePrice := 0.0
	if g.opts.MaxSlippage != nil {
		price, err := g.channel.ShareMarkPrice(ctx, symbol)
		if err != nil {
			return fmt.Errorf("share mark price: %w", err)
		}
		sharePrice = price
		g.log.Debug("share mark price", zap.Float64("price", sharePrice))
	}
	var lastErr error
	for attempt := 1; attempt <= g.opts.FeasibilityTries; attempt++ {
		order := MarketOrder{
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			OppositeBound: oppositeBound(side, size, sharePrice, g.opts.MaxSlippage),
			Deadline:      g.deadline(),
		}
		err := g.channel.EstimateTrade(ctx, order)
		if err == nil {
			err = g.retry(ctx, "trade", func() error {
				order.Deadline = g.deadline()
				return g.channel.Trade(ctx, order)
			})
			if err != nil {
				g.metrics.OrdersFailed.Inc()
				return fmt.Errorf("market %s order: %w", side, err)
			}
			g.metrics.OrdersPosted.Inc()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		g.log.Debug("trade estimate failed, halving size",
			zap.Int("attempt", attempt),
			zap.Float64("size", size),
			zap.Error(err),
		)
		size /= 2
	}
	g.metrics.OrdersFailed.Inc()
	return fmt.Errorf("market %s order infeasible after %d attempts: %w", side, g.opts.FeasibilityTries, lastErr)
}

func (g *Gateway) retry(ctx context.Context, op string, fn func() error) error {
	policy := g.opts.Retry
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !policy.Retryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			g.log.Error("retry limit reached", zap.String("op", op), zap.Int("attempts", attempt), zap.Error(err))
			return err
		}
		g.metrics.SubmitRetries.Inc()
		g.log.Warn("retrying after nonce conflict",
			zap.String("op", op),
			zap.Int("remaining", policy.MaxAttempts-attempt),
			zap.Error(err),
		)
		if policy.Backoff <= 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Backoff):
		}
	}
}

func (g *Gateway) deadline() time.Time {
	return g.opts.Now().Add(g.opts.DeadlineWindow)
}

func validateLimit(side Side, size, price float64) error {
	if !side.Valid() {
		return fmt.Errorf("%w: side %s", ErrInvalidOrder, side)
	}
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		return fmt.Errorf("%w: size %v", ErrInvalidOrder, size)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: price %v", ErrInvalidOrder, price)
	}
	return nil
}

// oppositeBound is the quote amount limit of a market order: the most we pay when
// buying, the least we accept when selling.
func oppositeBound(side Side, size, sharePrice float64, slippage *float64) *float64 {
	if slippage == nil {
		return nil
	}
	center := size * sharePrice
	bound := center * (1 - *slippage)
	if side == SideBid {
		bound = center * (1 + *slippage)
	}
	return &bound
}
