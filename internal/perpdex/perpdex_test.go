package perpdex

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"

	"perpdex-mm-bot/internal/chain"

	"github.com/ethereum/go-ethereum/common"
)

func TestX96RoundTrip(t *testing.T) {
	for _, price := range []float64{1, 0.5, 1234.5678, 1.0 / 3000} {
		raw, err := ToX96(price)
		if err != nil {
			t.Fatalf("to x96: %v", err)
		}
		got := FromX96(raw)
		if math.Abs(got-price)/price > 1e-12 {
			t.Fatalf("price %v round tripped to %v", price, got)
		}
	}
	one, _ := ToX96(1)
	if one.Cmp(new(big.Int).Lsh(big.NewInt(1), 96)) != 0 {
		t.Fatalf("expected 2^96 for price 1, got %s", one)
	}
	if _, err := ToX96(math.NaN()); err == nil {
		t.Fatalf("expected error for NaN")
	}
}

func TestUnitsConversion(t *testing.T) {
	units, err := ToUnits(0.01)
	if err != nil {
		t.Fatalf("to units: %v", err)
	}
	if units.String() != "10000000000000000" {
		t.Fatalf("unexpected units %s", units)
	}
	negative, _ := new(big.Int).SetString("-2500000000000000000", 10)
	if got := FromUnits(negative); got != -2.5 {
		t.Fatalf("expected -2.5, got %v", got)
	}
	if FromUnits(nil) != 0 || FromX96(nil) != 0 {
		t.Fatalf("expected zero for nil")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"execution reverted: OBL_CO: already fully executed", ErrAlreadyFilled},
		{"execution reverted: MOBL_CLO: enough mm", ErrNotOwner},
		{"execution reverted: RBTL_R: key not exist", ErrNotFound},
		{"nonce too low: next nonce 5, tx nonce 4", ErrNonceTooLow},
	}
	for _, tc := range cases {
		err := Classify(errors.New(tc.msg))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.msg, tc.want, err)
		}
		if again := Classify(err); again != err {
			t.Fatalf("%q: expected classification to be idempotent", tc.msg)
		}
	}
	plain := errors.New("execution reverted: PE_CLO: deadline")
	if got := Classify(plain); got != plain {
		t.Fatalf("expected unclassified error unchanged, got %v", got)
	}
	wrapped := fmt.Errorf("cancel: %w", errors.New("RBTL_R: key not exist"))
	if !errors.Is(Classify(wrapped), ErrNotFound) {
		t.Fatalf("expected wrapped revert to classify")
	}
	if Classify(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func testClient(inverse bool) *Client {
	return &Client{
		account: &chain.Account{Address: common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")},
		cfg: Config{
			Market:  chain.Deployment{Address: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")},
			Inverse: inverse,
		},
	}
}

func TestLimitOrderParams(t *testing.T) {
	deadline := time.Unix(1_700_000_120, 0)
	c := testClient(false)
	params, err := c.limitOrderParams(LimitOrder{IsBid: true, Size: 0.01, Price: 2, Deadline: deadline})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if !params.IsBid || params.LimitOrderType != 0 {
		t.Fatalf("unexpected params %+v", params)
	}
	if params.Base.String() != "10000000000000000" {
		t.Fatalf("unexpected base %s", params.Base)
	}
	if params.PriceX96.Cmp(new(big.Int).Lsh(big.NewInt(1), 97)) != 0 {
		t.Fatalf("unexpected price %s", params.PriceX96)
	}
	if params.Deadline.Int64() != 1_700_000_120 {
		t.Fatalf("unexpected deadline %s", params.Deadline)
	}
	if params.Market != c.cfg.Market.Address {
		t.Fatalf("unexpected market %s", params.Market.Hex())
	}
}

func TestLimitOrderParamsInverse(t *testing.T) {
	c := testClient(true)
	params, err := c.limitOrderParams(LimitOrder{IsBid: true, Size: 1, Price: 4})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.IsBid {
		t.Fatalf("expected side flipped on inverse market")
	}
	if params.PriceX96.Cmp(new(big.Int).Lsh(big.NewInt(1), 94)) != 0 {
		t.Fatalf("expected inverted price 0.25, got %s", params.PriceX96)
	}
	if _, err := c.limitOrderParams(LimitOrder{Size: 1, Price: 0}); err == nil {
		t.Fatalf("expected error for zero price on inverse market")
	}
}

func TestTradeParamsBounds(t *testing.T) {
	c := testClient(false)
	buy, err := c.tradeParams(MarketTrade{IsBid: true, Size: 1})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if buy.IsBaseToQuote || buy.IsExactInput {
		t.Fatalf("expected quote-to-base exact output for buy")
	}
	if buy.OppositeAmountBound.Cmp(maxUint256) != 0 {
		t.Fatalf("expected unbounded buy, got %s", buy.OppositeAmountBound)
	}
	sell, err := c.tradeParams(MarketTrade{IsBid: false, Size: 1})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if !sell.IsBaseToQuote || !sell.IsExactInput || sell.OppositeAmountBound.Sign() != 0 {
		t.Fatalf("unexpected sell params %+v", sell)
	}
	bound := 1.5
	bounded, err := c.tradeParams(MarketTrade{IsBid: true, Size: 1, OppositeBound: &bound})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if bounded.OppositeAmountBound.String() != "1500000000000000000" {
		t.Fatalf("unexpected bound %s", bounded.OppositeAmountBound)
	}
	if bounded.Trader != c.account.Address {
		t.Fatalf("unexpected trader %s", bounded.Trader.Hex())
	}
}

func TestOrderIDs(t *testing.T) {
	ids, err := orderIDs([]*big.Int{big.NewInt(1), big.NewInt(2)})
	if err != nil || len(ids) != 2 {
		t.Fatalf("unexpected ids %v err=%v", ids, err)
	}
	ids, err = orderIDs([]uint64{7})
	if err != nil || ids[0].Int64() != 7 {
		t.Fatalf("unexpected ids %v err=%v", ids, err)
	}
	if _, err := orderIDs("nope"); err == nil {
		t.Fatalf("expected error for unexpected type")
	}
}
