package perpdex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"perpdex-mm-bot/internal/chain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Backend is what the client needs from a node connection; *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Config struct {
	Exchange chain.Deployment
	Market   chain.Deployment
	Inverse  bool
}

// Client talks to the PerpDEX exchange and one market contract. Prices and
// positions cross its boundary in the agent's orientation: for inverse markets
// it inverts prices, negates positions and flips order sides.
type Client struct {
	backend  Backend
	account  *chain.Account
	nonces   *chain.NonceSource
	exchange *bind.BoundContract
	market   *bind.BoundContract
	cfg      Config
	log      *zap.Logger
}

func New(backend Backend, account *chain.Account, nonces *chain.NonceSource, cfg Config, log *zap.Logger) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if account == nil {
		return nil, errors.New("account is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		backend:  backend,
		account:  account,
		nonces:   nonces,
		exchange: bind.NewBoundContract(cfg.Exchange.Address, cfg.Exchange.ABI, backend, backend, backend),
		market:   bind.NewBoundContract(cfg.Market.Address, cfg.Market.ABI, backend, backend, backend),
		cfg:      cfg,
		log:      log,
	}, nil
}

func (c *Client) Trader() common.Address {
	return c.account.Address
}

func (c *Client) MarketAddress() common.Address {
	return c.cfg.Market.Address
}

func (c *Client) Inverse() bool {
	return c.cfg.Inverse
}

// Symbol reads the market contract's symbol.
func (c *Client) Symbol(ctx context.Context) (string, error) {
	var out []interface{}
	if err := c.market.Call(c.account.CallOpts(ctx), &out, "symbol"); err != nil {
		return "", fmt.Errorf("symbol: %w", err)
	}
	if len(out) == 0 {
		return "", errors.New("symbol: empty result")
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// MarkPrice is getMarkPriceX96 scaled down, inverted on inverse markets.
func (c *Client) MarkPrice(ctx context.Context) (float64, error) {
	raw, err := c.callBig(ctx, c.market, "getMarkPriceX96")
	if err != nil {
		return 0, err
	}
	price := FromX96(raw)
	if c.cfg.Inverse {
		if price == 0 {
			return 0, errors.New("mark price is zero")
		}
		return 1 / price, nil
	}
	return price, nil
}

func (c *Client) ShareMarkPrice(ctx context.Context) (float64, error) {
	raw, err := c.callBig(ctx, c.market, "getShareMarkPriceX96")
	if err != nil {
		return 0, err
	}
	return FromX96(raw), nil
}

// Position is the trader's base share, negated on inverse markets.
func (c *Client) Position(ctx context.Context) (float64, error) {
	raw, err := c.callBig(ctx, c.exchange, "getPositionShare", c.account.Address, c.cfg.Market.Address)
	if err != nil {
		return 0, err
	}
	pos := FromUnits(raw)
	if c.cfg.Inverse {
		return -pos, nil
	}
	return pos, nil
}

func (c *Client) AccountValue(ctx context.Context) (float64, error) {
	raw, err := c.callBig(ctx, c.exchange, "getTotalAccountValue", c.account.Address)
	if err != nil {
		return 0, err
	}
	return FromUnits(raw), nil
}

// UnitLeverageLot is the position size reachable at 1x leverage.
func (c *Client) UnitLeverageLot(ctx context.Context) (float64, error) {
	value, err := c.AccountValue(ctx)
	if err != nil {
		return 0, err
	}
	share, err := c.ShareMarkPrice(ctx)
	if err != nil {
		return 0, err
	}
	if share == 0 {
		return 0, errors.New("share mark price is zero")
	}
	return value / share, nil
}

// LimitOrderIDs lists the trader's resting orders on one side, in the agent's
// orientation.
func (c *Client) LimitOrderIDs(ctx context.Context, isBid bool) ([]*big.Int, error) {
	var out []interface{}
	err := c.exchange.Call(c.account.CallOpts(ctx), &out, "getLimitOrderIds", c.account.Address, c.cfg.Market.Address, c.venueIsBid(isBid))
	if err != nil {
		return nil, fmt.Errorf("getLimitOrderIds: %w", Classify(err))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return orderIDs(out[0])
}

func (c *Client) callBig(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := contract.Call(c.account.CallOpts(ctx), &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, Classify(err))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *Client) venueIsBid(isBid bool) bool {
	if c.cfg.Inverse {
		return !isBid
	}
	return isBid
}

func orderIDs(v interface{}) ([]*big.Int, error) {
	switch ids := v.(type) {
	case []*big.Int:
		return ids, nil
	case []uint64:
		out := make([]*big.Int, len(ids))
		for i, id := range ids {
			out[i] = new(big.Int).SetUint64(id)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected order id type %T", v)
	}
}

func unixDeadline(t time.Time) *big.Int {
	return big.NewInt(t.Unix())
}

func receiptFailed(r *types.Receipt) bool {
	return r == nil || r.Status != types.ReceiptStatusSuccessful
}
