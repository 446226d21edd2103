package solana

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the node has no record of a transaction or account.
var ErrNotFound = errors.New("solana: not found")

// Commitment levels accepted by the node.
const (
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// RPCClient is the subset of the JSON-RPC API the indexer uses.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress pages backwards through an address's history.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetAccountInfo returns raw account data.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetTokenAccountBalance returns an SPL token account balance.
	GetTokenAccountBalance(ctx context.Context, pubkey string) (*TokenBalance, error)
}

// Transaction is a confirmed transaction with its logs.
type Transaction struct {
	Slot      uint64
	Signature string
	BlockTime *int64 // unix seconds
	Err       any    // non-nil when the transaction failed
	Logs      []string
}

// SignatureInfo is one entry of getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	Err       any
}

// SignaturesOpts are the pagination parameters of getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // start searching backwards from this signature
	Until  string // stop at this signature (exclusive)
	Limit  int    // at most 1000
}

// AccountInfo is the base64 account payload.
type AccountInfo struct {
	Lamports uint64
	Owner    string
	Data     []byte
	Slot     uint64 // context slot of the read
}

// TokenBalance is the result of getTokenAccountBalance.
type TokenBalance struct {
	Amount   string // atomic units, base 10
	Decimals uint8
	Slot     uint64
}
