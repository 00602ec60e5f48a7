package perpdex

import (
	"errors"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of sizes and account values.
const Decimals = 18

var (
	q96        = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 96), 0)
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

var errNonFinite = errors.New("value must be finite")

// ToX96 converts a price into Q96 fixed point, truncating.
func ToX96(price float64) (*big.Int, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, errNonFinite
	}
	return decimal.NewFromFloat(price).Mul(q96).BigInt(), nil
}

func FromX96(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, 0).DivRound(q96, 24).InexactFloat64()
}

// ToUnits converts a base amount into 18-decimal integer units, truncating.
func ToUnits(amount float64) (*big.Int, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, errNonFinite
	}
	return decimal.NewFromFloat(amount).Shift(Decimals).BigInt(), nil
}

func FromUnits(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -Decimals).InexactFloat64()
}
