package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type countingSource struct {
	prices []float64
	calls  int
	err    error
}

func (s *countingSource) MarkPrice(ctx context.Context) (float64, error) {
	_ = ctx
	if s.err != nil {
		return 0, s.err
	}
	p := s.prices[s.calls%len(s.prices)]
	s.calls++
	return p, nil
}

func TestTickerThrottlesRefresh(t *testing.T) {
	src := &countingSource{prices: []float64{100, 101}}
	ticker := NewTicker(src, 500*time.Millisecond, nil)
	now := time.Unix(0, 0)
	ticker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		price, err := ticker.LastPrice(context.Background())
		if err != nil || price != 100 {
			t.Fatalf("expected cached 100, got %v err=%v", price, err)
		}
		now = now.Add(100 * time.Millisecond)
	}
	if src.calls != 1 {
		t.Fatalf("expected one source call, got %d", src.calls)
	}
	now = now.Add(300 * time.Millisecond)
	price, err := ticker.AskPrice(context.Background())
	if err != nil || price != 101 {
		t.Fatalf("expected refreshed 101, got %v err=%v", price, err)
	}
	if bid, _ := ticker.BidPrice(context.Background()); bid != 101 {
		t.Fatalf("expected bid to equal last price, got %v", bid)
	}
}

func TestTickerDoesNotCacheErrors(t *testing.T) {
	boom := errors.New("rpc down")
	src := &countingSource{err: boom}
	ticker := NewTicker(src, time.Minute, nil)
	if _, err := ticker.LastPrice(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	src.err = nil
	src.prices = []float64{42}
	if price, err := ticker.LastPrice(context.Background()); err != nil || price != 42 {
		t.Fatalf("expected 42 after recovery, got %v err=%v", price, err)
	}
}

// firstCallBlocks hangs the first MarkPrice until release is closed; later calls
// answer at once.
type firstCallBlocks struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (s *firstCallBlocks) MarkPrice(ctx context.Context) (float64, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
		return 100, nil
	}
	return 200, nil
}

func TestTickerBlockedCallDoesNotStallOtherCallers(t *testing.T) {
	src := &firstCallBlocks{entered: make(chan struct{}), release: make(chan struct{})}
	ticker := NewTicker(src, 0, nil)

	tradeDone := make(chan struct{})
	go func() {
		defer close(tradeDone)
		_, _ = ticker.LastPrice(context.Background())
	}()
	<-src.entered

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	infoDone := make(chan float64, 1)
	go func() {
		price, _ := ticker.LastPrice(ctx)
		infoDone <- price
	}()
	select {
	case price := <-infoDone:
		if price != 200 {
			t.Fatalf("expected 200 from the second call, got %v", price)
		}
	case <-time.After(time.Second):
		t.Fatalf("second caller stalled behind the blocked mark price call")
	}

	close(src.release)
	select {
	case <-tradeDone:
	case <-time.After(time.Second):
		t.Fatalf("blocked caller did not finish after release")
	}
}
