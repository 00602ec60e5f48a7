package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestKlines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "ETHUSDT" || q.Get("interval") != "1m" || q.Get("limit") != "2" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[
			[1700000000000,"2000.1","2001.5","1999.0","2000.9","12.5",1700000059999,"0",10,"0","0","0"],
			[1700000060000,"2000.9","2003.0","2000.0","2002.2","8.25",1700000119999,"0",7,"0","0","0"]
		]`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, zap.NewNop())
	candles, err := client.Klines(context.Background(), "ETH/USDT", "1m", 2)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	first := candles[0]
	if first.Open != 2000.1 || first.High != 2001.5 || first.Low != 1999 || first.Close != 2000.9 || first.Volume != 12.5 {
		t.Fatalf("unexpected candle %+v", first)
	}
	if !first.Start.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected start %v", first.Start)
	}
	if first.Symbol != "ETH/USDT" || first.Interval != "1m" {
		t.Fatalf("unexpected labels %+v", first)
	}
}

func TestKlinesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	if _, err := client.Klines(context.Background(), "FOO/BAR", "1m", 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseKline(t *testing.T) {
	msg := []byte(`{"e":"kline","E":1700000061000,"s":"ETHUSDT","k":{"t":1700000060000,"T":1700000119999,"s":"ETHUSDT","i":"1m","o":"2000.9","c":"2002.2","h":"2003.0","l":"2000.0","v":"8.25","x":true}}`)
	candle, closed, err := ParseKline(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !closed {
		t.Fatalf("expected closed kline")
	}
	if candle.Close != 2002.2 || candle.High != 2003 || candle.Interval != "1m" {
		t.Fatalf("unexpected candle %+v", candle)
	}
	if _, _, err := ParseKline([]byte(`{"result":null,"id":1}`)); !errors.Is(err, ErrNotKline) {
		t.Fatalf("expected ErrNotKline, got %v", err)
	}
}

func TestStreamName(t *testing.T) {
	if got := StreamName("ETH/USDT", "1m"); got != "ethusdt@kline_1m" {
		t.Fatalf("unexpected stream name %s", got)
	}
	msg := SubscribeMessage("BTC/USDT", "5m", 7)
	params := msg["params"].([]string)
	if msg["method"] != "SUBSCRIBE" || params[0] != "btcusdt@kline_5m" || msg["id"] != 7 {
		t.Fatalf("unexpected subscribe message %v", msg)
	}
}
