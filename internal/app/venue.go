package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"perpdex-mm-bot/internal/exec"
	"perpdex-mm-bot/internal/perpdex"
)

// Venue is the part of *perpdex.Client the exec channel needs.
type Venue interface {
	CreateLimitOrder(ctx context.Context, order perpdex.LimitOrder) (string, error)
	CancelLimitOrder(ctx context.Context, isBid bool, orderID *big.Int, deadline time.Time) error
	LimitOrderIDs(ctx context.Context, isBid bool) ([]*big.Int, error)
	ShareMarkPrice(ctx context.Context) (float64, error)
	EstimateTrade(ctx context.Context, trade perpdex.MarketTrade) error
	Trade(ctx context.Context, trade perpdex.MarketTrade) error
}

// perpdexChannel adapts one PerpDEX market to exec.Channel and tags venue
// rejections with their exec.ErrorKind.
type perpdexChannel struct {
	symbol string
	venue  Venue
}

func newPerpdexChannel(symbol string, v Venue) *perpdexChannel {
	return &perpdexChannel{symbol: symbol, venue: v}
}

func (c *perpdexChannel) Submit(ctx context.Context, order exec.Order) (exec.OrderID, error) {
	if err := c.checkSymbol(order.Symbol); err != nil {
		return "", err
	}
	id, err := c.venue.CreateLimitOrder(ctx, perpdex.LimitOrder{
		IsBid:    order.Side == exec.SideBid,
		Size:     order.Size,
		Price:    order.Price,
		Deadline: order.Deadline,
	})
	if err != nil {
		return "", classify(err)
	}
	return exec.OrderID(id), nil
}

func (c *perpdexChannel) Cancel(ctx context.Context, cancel exec.Cancel) error {
	if err := c.checkSymbol(cancel.Symbol); err != nil {
		return err
	}
	if strings.HasPrefix(string(cancel.OrderID), "0x") {
		return fmt.Errorf("cancel %s: %w", cancel.OrderID, perpdex.ErrTxHashOrderID)
	}
	id, ok := new(big.Int).SetString(string(cancel.OrderID), 10)
	if !ok {
		return fmt.Errorf("invalid order id %q", cancel.OrderID)
	}
	return classify(c.venue.CancelLimitOrder(ctx, cancel.Side == exec.SideBid, id, cancel.Deadline))
}

func (c *perpdexChannel) ListOpenOrders(ctx context.Context, symbol string, side exec.Side) ([]exec.OrderID, error) {
	if err := c.checkSymbol(symbol); err != nil {
		return nil, err
	}
	ids, err := c.venue.LimitOrderIDs(ctx, side == exec.SideBid)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]exec.OrderID, 0, len(ids))
	for _, id := range ids {
		out = append(out, exec.OrderID(id.String()))
	}
	return out, nil
}

func (c *perpdexChannel) ShareMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.checkSymbol(symbol); err != nil {
		return 0, err
	}
	price, err := c.venue.ShareMarkPrice(ctx)
	return price, classify(err)
}

func (c *perpdexChannel) EstimateTrade(ctx context.Context, order exec.MarketOrder) error {
	if err := c.checkSymbol(order.Symbol); err != nil {
		return err
	}
	return classify(c.venue.EstimateTrade(ctx, marketTrade(order)))
}

func (c *perpdexChannel) Trade(ctx context.Context, order exec.MarketOrder) error {
	if err := c.checkSymbol(order.Symbol); err != nil {
		return err
	}
	return classify(c.venue.Trade(ctx, marketTrade(order)))
}

func (c *perpdexChannel) checkSymbol(symbol string) error {
	if !strings.EqualFold(symbol, c.symbol) {
		return fmt.Errorf("%w: %s", perpdex.ErrUnknownMarket, symbol)
	}
	return nil
}

func marketTrade(order exec.MarketOrder) perpdex.MarketTrade {
	return perpdex.MarketTrade{
		IsBid:         order.Side == exec.SideBid,
		Size:          order.Size,
		OppositeBound: order.OppositeBound,
		Deadline:      order.Deadline,
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	err = perpdex.Classify(err)
	switch {
	case errors.Is(err, perpdex.ErrAlreadyFilled):
		return exec.NewError(exec.KindAlreadyFilled, err)
	case errors.Is(err, perpdex.ErrNotOwner):
		return exec.NewError(exec.KindNotOwner, err)
	case errors.Is(err, perpdex.ErrNotFound):
		return exec.NewError(exec.KindNotFound, err)
	case errors.Is(err, perpdex.ErrNonceTooLow):
		return exec.NewError(exec.KindNonceConflict, err)
	default:
		return exec.NewError(exec.KindOther, err)
	}
}
