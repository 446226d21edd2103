// Package chain reads authoritative pool state straight from the ledger.
package chain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/solana"
	"belief-pool-indexer/internal/units"
)

// PoolSeed is the first PDA seed of a pool account.
const PoolSeed = "content_pool"

// ErrPoolNotFound is returned when the pool account does not exist.
var ErrPoolNotFound = errors.New("pool account not found")

// PoolState is a fresh read of a pool and its USDC vault.
type PoolState struct {
	Address      string
	Account      *decoder.PoolAccount
	VaultBalance units.AtomicAmount
	Slot         uint64 // context slot of the account read
}

// Reader fetches pool state with a shared request budget.
type Reader struct {
	rpc     solana.RPCClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Options configures a Reader.
type Options struct {
	RequestsPerSecond float64 // 0 disables limiting
	Burst             int
	Logger            *zap.Logger
}

// NewReader creates a ledger reader.
func NewReader(rpc solana.RPCClient, opts Options) *Reader {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reader{rpc: rpc, limiter: limiter, logger: opts.Logger}
}

// PoolState reads the pool account and its vault balance.
func (r *Reader) PoolState(ctx context.Context, address string) (*PoolState, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := r.rpc.GetAccountInfo(ctx, address)
	if errors.Is(err, solana.ErrNotFound) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool account %s: %w", address, err)
	}
	acc, err := decoder.DecodePoolAccount(info.Data)
	if err != nil {
		return nil, fmt.Errorf("decode pool account %s: %w", address, err)
	}

	state := &PoolState{Address: address, Account: acc, Slot: info.Slot}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	bal, err := r.rpc.GetTokenAccountBalance(ctx, acc.Vault)
	switch {
	case errors.Is(err, solana.ErrNotFound):
		r.logger.Warn("pool vault missing", zap.String("pool", address), zap.String("vault", acc.Vault))
	case err != nil:
		return nil, fmt.Errorf("get vault balance %s: %w", acc.Vault, err)
	default:
		v, err := units.ParseAtomic(bal.Amount)
		if err != nil {
			return nil, fmt.Errorf("vault balance %s: %w", acc.Vault, err)
		}
		state.VaultBalance = v
	}
	return state, nil
}

// PoolAddress derives the pool PDA of a belief.
func PoolAddress(programID, beliefID string) (string, error) {
	belief, err := solana.DecodePubkey(beliefID)
	if err != nil {
		return "", err
	}
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(PoolSeed), belief}, programID)
	if err != nil {
		return "", fmt.Errorf("derive pool address: %w", err)
	}
	return addr, nil
}
