package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"perpdex-mm-bot/internal/market"

	"go.uber.org/zap"
)

// Client reads spot klines from the Binance public REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Symbol converts a pair like "ETH/USDT" into the exchange symbol "ETHUSDT".
func Symbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

// Klines returns up to limit candles, oldest first, including the still-open one.
func (c *Client) Klines(ctx context.Context, pair, interval string, limit int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", Symbol(pair))
	q.Set("interval", interval)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var rows [][]json.RawMessage
	if err := c.get(ctx, "/api/v3/klines", q, &rows); err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseRESTKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		candle.Symbol = pair
		candle.Interval = interval
		out = append(out, candle)
	}
	c.log.Debug("klines fetched", zap.String("symbol", pair), zap.String("interval", interval), zap.Int("count", len(out)))
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseRESTKline decodes [openTime, open, high, low, close, volume, closeTime, ...].
func parseRESTKline(row []json.RawMessage) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, errors.New("short kline row")
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return market.Candle{}, fmt.Errorf("open time: %w", err)
	}
	fields := make([]string, 5)
	for i := range fields {
		if err := json.Unmarshal(row[i+1], &fields[i]); err != nil {
			return market.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	vals, err := parseDecimals(fields...)
	if err != nil {
		return market.Candle{}, err
	}
	return market.Candle{
		Start:  time.UnixMilli(openTime).UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
