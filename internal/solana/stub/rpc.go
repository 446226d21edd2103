// Package stub provides an in-memory solana.RPCClient for tests.
package stub

import (
	"context"
	"sync"

	"belief-pool-indexer/internal/solana"
)

// RPCClient implements solana.RPCClient from maps.
type RPCClient struct {
	mu            sync.RWMutex
	Transactions  map[string]*solana.Transaction
	Signatures    map[string][]solana.SignatureInfo // newest first, as the node returns them
	Accounts      map[string]*solana.AccountInfo
	TokenBalances map[string]*solana.TokenBalance
	Calls         map[string]int
}

// NewRPCClient creates an empty stub.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Transactions:  make(map[string]*solana.Transaction),
		Signatures:    make(map[string][]solana.SignatureInfo),
		Accounts:      make(map[string]*solana.AccountInfo),
		TokenBalances: make(map[string]*solana.TokenBalance),
		Calls:         make(map[string]int),
	}
}

func (c *RPCClient) count(method string) {
	c.mu.Lock()
	c.Calls[method]++
	c.mu.Unlock()
}

// GetTransaction returns a stored transaction or solana.ErrNotFound.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.count("getTransaction")
	c.mu.RLock()
	defer c.mu.RUnlock()
	tx, ok := c.Transactions[signature]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return tx, nil
}

// GetSignaturesForAddress pages the stored list honoring Before, Until and Limit.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.count("getSignaturesForAddress")
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := c.Signatures[address]
	start := 0
	if opts != nil && opts.Before != "" {
		start = len(all)
		for i, s := range all {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}

	var out []solana.SignatureInfo
	for _, s := range all[start:] {
		if opts != nil && opts.Until != "" && s.Signature == opts.Until {
			break
		}
		out = append(out, s)
		if opts != nil && opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetAccountInfo returns a stored account or solana.ErrNotFound.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.count("getAccountInfo")
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.Accounts[pubkey]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return acc, nil
}

// GetTokenAccountBalance returns a stored balance or solana.ErrNotFound.
func (c *RPCClient) GetTokenAccountBalance(_ context.Context, pubkey string) (*solana.TokenBalance, error) {
	c.count("getTokenAccountBalance")
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.TokenBalances[pubkey]
	if !ok {
		return nil, solana.ErrNotFound
	}
	return b, nil
}

// AddTransaction stores a transaction.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[tx.Signature] = tx
}

// AddSignatures sets the history of an address, newest first.
func (c *RPCClient) AddSignatures(address string, sigs []solana.SignatureInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Signatures[address] = sigs
}

// SetAccount stores account data.
func (c *RPCClient) SetAccount(pubkey string, acc *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = acc
}

// SetTokenBalance stores a token account balance.
func (c *RPCClient) SetTokenBalance(pubkey string, b *solana.TokenBalance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TokenBalances[pubkey] = b
}

var _ solana.RPCClient = (*RPCClient)(nil)
