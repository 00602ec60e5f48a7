package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// QuoteSnapshot records the outcome of the last completed quote cycle.
type QuoteSnapshot struct {
	CycleID     string  `msgpack:"cycle_id"`
	Symbol      string  `msgpack:"symbol"`
	LastPrice   float64 `msgpack:"ltp"`
	AskPrice    float64 `msgpack:"ask_price"`
	BidPrice    float64 `msgpack:"bid_price"`
	AskSize     float64 `msgpack:"ask_size"`
	BidSize     float64 `msgpack:"bid_size"`
	AskOrderID  string  `msgpack:"ask_order_id,omitempty"`
	BidOrderID  string  `msgpack:"bid_order_id,omitempty"`
	UpdatedAtMS int64   `msgpack:"updated_at_ms"`
}

func QuoteSnapshotKey(symbol string) string {
	return "maker:last_quote:" + strings.ToUpper(strings.TrimSpace(symbol))
}

func LoadQuoteSnapshot(ctx context.Context, store Store, symbol string) (QuoteSnapshot, bool, error) {
	if store == nil {
		return QuoteSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, QuoteSnapshotKey(symbol))
	if err != nil {
		return QuoteSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return QuoteSnapshot{}, false, nil
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return QuoteSnapshot{}, false, fmt.Errorf("decode quote snapshot: %w", err)
	}
	var snapshot QuoteSnapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return QuoteSnapshot{}, false, fmt.Errorf("decode quote snapshot: %w", err)
	}
	return snapshot, true, nil
}

func SaveQuoteSnapshot(ctx context.Context, store Store, snapshot QuoteSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(&snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, QuoteSnapshotKey(snapshot.Symbol), base64.StdEncoding.EncodeToString(payload))
}
