package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
)

// Dial connects to an http(s) or ws(s) JSON-RPC endpoint.
func Dial(ctx context.Context, uri string) (*ethclient.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, errors.New("provider uri is required")
	}
	client, err := ethclient.DialContext(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(uri), err)
	}
	return client, nil
}

// GasPrice returns the fixed gas price used on network, or nil to let the node
// suggest one.
func GasPrice(network string) *big.Int {
	name := strings.ToLower(network)
	switch {
	case strings.Contains(name, "zksync"):
		return big.NewInt(0)
	case strings.Contains(name, "arbitrum"):
		return gwei(1, 10)
	case strings.Contains(name, "optimism"):
		return gwei(1, 10_000)
	default:
		return nil
	}
}

// gwei returns num/den gwei in wei.
func gwei(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), big.NewInt(params.GWei))
	return v.Div(v, big.NewInt(den))
}

// Account is the signing identity of the agent.
type Account struct {
	Address common.Address
	ChainID *big.Int
	opts    *bind.TransactOpts
	network string
}

func NewAccount(hexKey string, chainID *big.Int, network string) (*Account, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	return &Account{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		ChainID: chainID,
		opts:    opts,
		network: network,
	}, nil
}

// TransactOpts returns fresh options for one transaction. A nil nonce lets the
// backend pick the pending nonce.
func (a *Account) TransactOpts(ctx context.Context, nonce *uint64, noSend bool) *bind.TransactOpts {
	opts := &bind.TransactOpts{
		From:    a.opts.From,
		Signer:  a.opts.Signer,
		Context: ctx,
		NoSend:  noSend,
	}
	if nonce != nil {
		opts.Nonce = new(big.Int).SetUint64(*nonce)
	}
	if price := GasPrice(a.network); price != nil {
		opts.GasPrice = price
	}
	return opts
}

func (a *Account) CallOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{From: a.Address, Context: ctx}
}

func redact(uri string) string {
	if idx := strings.Index(uri, "://"); idx >= 0 {
		rest := uri[idx+3:]
		if slash := strings.Index(rest, "/"); slash >= 0 {
			return uri[:idx+3] + rest[:slash] + "/..."
		}
	}
	return uri
}
