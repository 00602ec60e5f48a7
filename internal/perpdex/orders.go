package perpdex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const limitOrderTypePostOnly uint8 = 0

type createLimitOrderParams struct {
	Market         common.Address `abi:"market"`
	IsBid          bool           `abi:"isBid"`
	Base           *big.Int       `abi:"base"`
	PriceX96       *big.Int       `abi:"priceX96"`
	Deadline       *big.Int       `abi:"deadline"`
	LimitOrderType uint8          `abi:"limitOrderType"`
}

type cancelLimitOrderParams struct {
	Market   common.Address `abi:"market"`
	IsBid    bool           `abi:"isBid"`
	OrderID  *big.Int       `abi:"orderId"`
	Deadline *big.Int       `abi:"deadline"`
}

type tradeParams struct {
	Trader              common.Address `abi:"trader"`
	Market              common.Address `abi:"market"`
	IsBaseToQuote       bool           `abi:"isBaseToQuote"`
	IsExactInput        bool           `abi:"isExactInput"`
	Amount              *big.Int       `abi:"amount"`
	OppositeAmountBound *big.Int       `abi:"oppositeAmountBound"`
	Deadline            *big.Int       `abi:"deadline"`
}

// LimitOrder is a post-only order in the agent's orientation.
type LimitOrder struct {
	IsBid    bool
	Size     float64
	Price    float64
	Deadline time.Time
}

// MarketTrade takes liquidity. A nil OppositeBound leaves the quote amount
// unbounded.
type MarketTrade struct {
	IsBid         bool
	Size          float64
	OppositeBound *float64
	Deadline      time.Time
}

func (c *Client) limitOrderParams(order LimitOrder) (createLimitOrderParams, error) {
	base, err := ToUnits(order.Size)
	if err != nil {
		return createLimitOrderParams{}, fmt.Errorf("size: %w", err)
	}
	price := order.Price
	if c.cfg.Inverse {
		if price == 0 {
			return createLimitOrderParams{}, errors.New("price is zero")
		}
		price = 1 / price
	}
	priceX96, err := ToX96(price)
	if err != nil {
		return createLimitOrderParams{}, fmt.Errorf("price: %w", err)
	}
	return createLimitOrderParams{
		Market:         c.cfg.Market.Address,
		IsBid:          c.venueIsBid(order.IsBid),
		Base:           base,
		PriceX96:       priceX96,
		Deadline:       unixDeadline(order.Deadline),
		LimitOrderType: limitOrderTypePostOnly,
	}, nil
}

func (c *Client) tradeParams(trade MarketTrade) (tradeParams, error) {
	amount, err := ToUnits(trade.Size)
	if err != nil {
		return tradeParams{}, fmt.Errorf("size: %w", err)
	}
	isBid := c.venueIsBid(trade.IsBid)
	var bound *big.Int
	switch {
	case trade.OppositeBound != nil:
		bound, err = ToUnits(*trade.OppositeBound)
		if err != nil {
			return tradeParams{}, fmt.Errorf("opposite bound: %w", err)
		}
	case isBid:
		bound = new(big.Int).Set(maxUint256)
	default:
		bound = big.NewInt(0)
	}
	return tradeParams{
		Trader:              c.account.Address,
		Market:              c.cfg.Market.Address,
		IsBaseToQuote:       !isBid,
		IsExactInput:        !isBid,
		Amount:              amount,
		OppositeAmountBound: bound,
		Deadline:            unixDeadline(trade.Deadline),
	}, nil
}

// CreateLimitOrder submits a post-only order and waits for its receipt. The
// returned id comes from the LimitOrderCreated event when the ABI declares it,
// otherwise it is the 0x-prefixed transaction hash. A hash id is for logs only;
// cancel such orders by the ids LimitOrderIDs returns.
func (c *Client) CreateLimitOrder(ctx context.Context, order LimitOrder) (string, error) {
	params, err := c.limitOrderParams(order)
	if err != nil {
		return "", err
	}
	receipt, err := c.transact(ctx, "createLimitOrder", params)
	if err != nil {
		return "", err
	}
	if id, ok := c.createdOrderID(receipt); ok {
		return id.String(), nil
	}
	return receipt.TxHash.Hex(), nil
}

func (c *Client) CancelLimitOrder(ctx context.Context, isBid bool, orderID *big.Int, deadline time.Time) error {
	if orderID == nil {
		return errors.New("order id is required")
	}
	params := cancelLimitOrderParams{
		Market:   c.cfg.Market.Address,
		IsBid:    c.venueIsBid(isBid),
		OrderID:  orderID,
		Deadline: unixDeadline(deadline),
	}
	_, err := c.transact(ctx, "cancelLimitOrder", params)
	return err
}

// EstimateTrade builds and signs the trade without sending it; gas estimation
// fails when the trade would revert.
func (c *Client) EstimateTrade(ctx context.Context, trade MarketTrade) error {
	params, err := c.tradeParams(trade)
	if err != nil {
		return err
	}
	tx, err := c.exchange.Transact(c.account.TransactOpts(ctx, nil, true), "trade", params)
	if err != nil {
		return fmt.Errorf("estimate trade: %w", Classify(err))
	}
	c.log.Debug("trade estimate", zap.Uint64("gas", tx.Gas()), zap.String("amount", params.Amount.String()))
	return nil
}

func (c *Client) Trade(ctx context.Context, trade MarketTrade) error {
	params, err := c.tradeParams(trade)
	if err != nil {
		return err
	}
	_, err = c.transact(ctx, "trade", params)
	return err
}

func (c *Client) transact(ctx context.Context, method string, params interface{}) (*types.Receipt, error) {
	var nonce *uint64
	if c.nonces != nil {
		n := c.nonces.Next(ctx)
		nonce = &n
	}
	tx, err := c.exchange.Transact(c.account.TransactOpts(ctx, nonce, false), method, params)
	if err != nil {
		err = Classify(err)
		c.resyncNonce(ctx, method, err)
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.log.Debug("transaction sent", zap.String("method", method), zap.String("tx", tx.Hash().Hex()), zap.Uint64("nonce", tx.Nonce()))
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait %s: %w", method, tx.Hash().Hex(), err)
	}
	if receiptFailed(receipt) {
		return nil, fmt.Errorf("%s: %w: %s", method, ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

// resyncNonce realigns the local nonce after a send that never reached the
// chain, so the allocated nonce is not left as a gap.
func (c *Client) resyncNonce(ctx context.Context, method string, cause error) {
	if c.nonces == nil {
		return
	}
	if err := c.nonces.Resync(ctx); err != nil {
		c.log.Warn("nonce resync failed", zap.String("method", method), zap.NamedError("cause", cause), zap.Error(err))
	}
}

func (c *Client) createdOrderID(receipt *types.Receipt) (*big.Int, bool) {
	event, ok := c.cfg.Exchange.ABI.Events["LimitOrderCreated"]
	if !ok || receipt == nil {
		return nil, false
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		fields := map[string]interface{}{}
		if err := c.cfg.Exchange.ABI.UnpackIntoMap(fields, event.Name, lg.Data); err != nil {
			c.log.Debug("decode LimitOrderCreated failed", zap.Error(err))
			continue
		}
		if id, ok := fields["orderId"].(*big.Int); ok {
			return id, true
		}
	}
	return nil, false
}
