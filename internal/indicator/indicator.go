package indicator

import (
	"errors"
	"math"

	bbgoindicator "github.com/c9s/bbgo/pkg/indicator"
	"github.com/c9s/bbgo/pkg/types"
)

var ErrInsufficientData = errors.New("insufficient data")

// MeanStd returns the mean and sample standard deviation (n-1 denominator) of the
// last period values.
func MeanStd(values []float64, period int) (float64, float64, error) {
	if period < 2 {
		return 0, 0, errors.New("period must be at least 2")
	}
	if len(values) < period {
		return 0, 0, ErrInsufficientData
	}
	window := values[len(values)-period:]
	var sum float64
	for _, v := range window {
		sum += v
	}
	n := float64(period)
	mean := sum / n
	var sumSq float64
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / (n - 1)), nil
}

// ATR returns the latest average true range over period bars, smoothed with
// bbgo's Wilder moving average. The first bar only seeds the previous close, so
// at least period+1 bars are required.
func ATR(high, low, close []float64, period int) (float64, error) {
	if period < 1 {
		return 0, errors.New("period must be positive")
	}
	if len(high) != len(low) || len(low) != len(close) {
		return 0, errors.New("high, low and close must have equal length")
	}
	if len(close) < period+1 {
		return 0, ErrInsufficientData
	}
	atr := &bbgoindicator.ATR{IntervalWindow: types.IntervalWindow{Window: period}}
	for i := range close {
		atr.Update(high[i], low[i], close[i])
	}
	v := atr.Last(0)
	if math.IsNaN(v) {
		return 0, ErrInsufficientData
	}
	return v, nil
}
