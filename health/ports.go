package health

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pinger is a cheap connectivity check, satisfied by the relational store,
// the KV store, and the EntryPoint adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MempoolSizer reports the current pending UserOperation count.
type MempoolSizer interface {
	Size(ctx context.Context) (int, error)
}

// SignerInfo reports the bundler signer's identity and on-chain balance.
type SignerInfo interface {
	SignerAddress() common.Address
	SignerEthBalance(ctx context.Context) (*big.Int, error)
}
