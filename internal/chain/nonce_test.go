package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeNoncer struct {
	pending uint64
	err     error
}

func (f *fakeNoncer) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	_ = ctx
	_ = account
	return f.pending, f.err
}

type memoryStore struct {
	mu     sync.Mutex
	items  map[string]string
	setErr error
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

var testAddr = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")

func TestNonceSourceSeedsFromLargerValue(t *testing.T) {
	key := nonceStoreKey(big.NewInt(10), testAddr)
	store := &memoryStore{items: map[string]string{key: "12"}}
	src := NewNonceSource(&fakeNoncer{pending: 9}, testAddr, big.NewInt(10), store, nil)
	if err := src.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := src.Next(context.Background()); got != 12 {
		t.Fatalf("expected stored nonce 12, got %d", got)
	}
	if got := src.Next(context.Background()); got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
	if store.items[key] != "14" {
		t.Fatalf("expected persisted next nonce 14, got %q", store.items[key])
	}

	src = NewNonceSource(&fakeNoncer{pending: 20}, testAddr, big.NewInt(10), store, nil)
	if err := src.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := src.Peek(); got != 20 {
		t.Fatalf("expected chain pending 20, got %d", got)
	}
}

func TestNonceSourceResync(t *testing.T) {
	chain := &fakeNoncer{pending: 5}
	store := &memoryStore{}
	src := NewNonceSource(chain, testAddr, big.NewInt(1), store, nil)
	if err := src.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	for i := 0; i < 3; i++ {
		src.Next(context.Background())
	}
	chain.pending = 6
	if err := src.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if got := src.Next(context.Background()); got != 6 {
		t.Fatalf("expected resynced nonce 6, got %d", got)
	}
	if got := store.items[nonceStoreKey(big.NewInt(1), testAddr)]; got != "7" {
		t.Fatalf("expected persisted 7 after resync, got %q", got)
	}
}

func TestNonceSourceErrors(t *testing.T) {
	boom := errors.New("rpc down")
	src := NewNonceSource(&fakeNoncer{err: boom}, testAddr, big.NewInt(1), nil, nil)
	if err := src.Init(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected rpc error, got %v", err)
	}
	store := &memoryStore{items: map[string]string{nonceStoreKey(big.NewInt(1), testAddr): "abc"}}
	src = NewNonceSource(&fakeNoncer{}, testAddr, big.NewInt(1), store, nil)
	if err := src.Init(context.Background()); err == nil {
		t.Fatalf("expected error for corrupt stored nonce")
	}

	failing := &memoryStore{setErr: errors.New("disk full")}
	src = NewNonceSource(&fakeNoncer{pending: 3}, testAddr, big.NewInt(1), failing, nil)
	if err := src.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := src.Next(context.Background()); got != 3 {
		t.Fatalf("expected allocation despite persistence failure, got %d", got)
	}
}
