package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"perpdex-mm-bot/internal/market"

	"github.com/shopspring/decimal"
)

var ErrNotKline = errors.New("not a kline event")

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		Start    int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// StreamName is the kline stream of pair, e.g. "ethusdt@kline_1m".
func StreamName(pair, interval string) string {
	return strings.ToLower(Symbol(pair)) + "@kline_" + interval
}

// SubscribeMessage is the payload that subscribes a raw connection to the kline
// stream of pair.
func SubscribeMessage(pair, interval string, id int) map[string]any {
	return map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{StreamName(pair, interval)},
		"id":     id,
	}
}

// ParseKline decodes a kline stream frame. Subscription acks and other events
// return ErrNotKline.
func ParseKline(data []byte) (market.Candle, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return market.Candle{}, false, err
	}
	if ev.Event != "kline" {
		return market.Candle{}, false, ErrNotKline
	}
	vals, err := parseDecimals(ev.Kline.Open, ev.Kline.High, ev.Kline.Low, ev.Kline.Close, ev.Kline.Volume)
	if err != nil {
		return market.Candle{}, false, err
	}
	return market.Candle{
		Symbol:   ev.Symbol,
		Interval: ev.Kline.Interval,
		Start:    time.UnixMilli(ev.Kline.Start).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, ev.Kline.Closed, nil
}

func parseDecimals(values ...string) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", v, err)
		}
		out[i] = d.InexactFloat64()
	}
	return out, nil
}
