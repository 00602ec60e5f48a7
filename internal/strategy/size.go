package strategy

import (
	"context"
	"fmt"
	"math"
)

// SkewSizes applies the inventory skew rule: the side that reduces the position
// grows by the position size, the side that grows it shrinks toward zero.
func SkewSizes(lot, position float64) (askSize, bidSize float64) {
	if position < 0 {
		askSize = math.Max(0, lot-math.Abs(position))
	} else {
		askSize = position + lot
	}
	if position > 0 {
		bidSize = math.Max(0, lot-position)
	} else {
		bidSize = math.Abs(position) + lot
	}
	return askSize, bidSize
}

// SimpleSize sizes quotes from the current position, read fresh on every call.
type SimpleSize struct {
	position PositionReader
	lot      float64
}

func NewSimpleSize(position PositionReader, lot float64) *SimpleSize {
	return &SimpleSize{position: position, lot: lot}
}

func (s *SimpleSize) AskBidSizes(ctx context.Context) (float64, float64, error) {
	p, err := s.position.CurrentPosition(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("current position: %w", err)
	}
	ask, bid := SkewSizes(s.lot, p)
	return ask, bid, nil
}
