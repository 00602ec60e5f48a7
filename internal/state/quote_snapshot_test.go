package state

import (
	"context"
	"sync"
	"testing"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestQuoteSnapshotRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snapshot := QuoteSnapshot{
		CycleID:     "0b7e4c8a-1f7e-4f0e-9d55-3a3c1f1c2a10",
		Symbol:      "ETH",
		LastPrice:   100,
		AskPrice:    101,
		BidPrice:    99,
		AskSize:     0.01,
		BidSize:     0.01,
		AskOrderID:  "12",
		BidOrderID:  "13",
		UpdatedAtMS: 12345,
	}
	if err := SaveQuoteSnapshot(ctx, store, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if _, ok := store.items["maker:last_quote:ETH"]; !ok {
		t.Fatalf("expected snapshot under symbol key, got %v", store.items)
	}
	got, ok, err := LoadQuoteSnapshot(ctx, store, "eth")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to be present")
	}
	if got != snapshot {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestQuoteSnapshotMissing(t *testing.T) {
	got, ok, err := LoadQuoteSnapshot(context.Background(), &memoryStore{}, "ETH")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot, got %#v", got)
	}
	if _, ok, err := LoadQuoteSnapshot(context.Background(), nil, "ETH"); ok || err != nil {
		t.Fatalf("expected nil store to be a no-op")
	}
}

func TestQuoteSnapshotInvalid(t *testing.T) {
	store := &memoryStore{items: map[string]string{QuoteSnapshotKey("ETH"): "not base64!"}}
	if _, _, err := LoadQuoteSnapshot(context.Background(), store, "ETH"); err == nil {
		t.Fatalf("expected error for invalid snapshot")
	}
}
