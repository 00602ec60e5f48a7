package chain

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// NonceSource hands out transaction nonces locally so consecutive transactions do
// not wait on the node's pending view. The next nonce is persisted after every
// allocation.
type NonceSource struct {
	chain PendingNoncer
	addr  common.Address
	store NonceStore
	key   string
	log   *zap.Logger

	mu            sync.Mutex
	next          uint64
	persisted     uint64
	persistWarned atomic.Bool
}

func NewNonceSource(chain PendingNoncer, addr common.Address, chainID *big.Int, store NonceStore, log *zap.Logger) *NonceSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &NonceSource{
		chain: chain,
		addr:  addr,
		store: store,
		key:   nonceStoreKey(chainID, addr),
		log:   log,
	}
}

// Init seeds the source with the larger of the node's pending nonce and the
// stored one.
func (n *NonceSource) Init(ctx context.Context) error {
	pending, err := n.chain.PendingNonceAt(ctx, n.addr)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	seed := pending
	if n.store != nil {
		raw, ok, err := n.store.Get(ctx, n.key)
		if err != nil {
			return err
		}
		if ok {
			stored, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
			}
			if stored > seed {
				seed = stored
			}
		}
	}
	n.mu.Lock()
	if n.next > seed {
		seed = n.next
	}
	n.next = seed
	n.persisted = seed
	n.mu.Unlock()
	n.log.Info("nonce source ready", zap.String("address", n.addr.Hex()), zap.Uint64("pending", pending), zap.Uint64("next", seed))
	return nil
}

func (n *NonceSource) Next(ctx context.Context) uint64 {
	n.mu.Lock()
	nonce := n.next
	n.next++
	next := n.next
	n.mu.Unlock()
	n.persist(ctx, next)
	return nonce
}

// Resync replaces the local counter with the node's pending nonce. Used after
// the node rejects a nonce.
func (n *NonceSource) Resync(ctx context.Context) error {
	pending, err := n.chain.PendingNonceAt(ctx, n.addr)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	n.mu.Lock()
	prev := n.next
	n.next = pending
	n.persisted = 0
	n.mu.Unlock()
	n.log.Warn("nonce resynced", zap.Uint64("local", prev), zap.Uint64("pending", pending))
	n.persist(ctx, pending)
	return nil
}

func (n *NonceSource) Peek() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next
}

func (n *NonceSource) persist(ctx context.Context, next uint64) {
	if n.store == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if next <= n.persisted && n.persisted != 0 {
		return
	}
	if err := n.store.Set(ctx, n.key, strconv.FormatUint(next, 10)); err != nil {
		if n.persistWarned.CompareAndSwap(false, true) {
			n.log.Warn("nonce persistence failed", zap.String("nonce_key", n.key), zap.Error(err))
		}
		return
	}
	n.persisted = next
	n.persistWarned.Store(false)
}

func nonceStoreKey(chainID *big.Int, addr common.Address) string {
	id := "unknown"
	if chainID != nil {
		id = chainID.String()
	}
	return fmt.Sprintf("chain:nonce:%s:%s", id, strings.ToLower(addr.Hex()))
}
