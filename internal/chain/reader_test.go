package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/decoder/decodertest"
	"belief-pool-indexer/internal/solana"
	"belief-pool-indexer/internal/solana/stub"
)

func poolAccountData(vault string) []byte {
	disc := decoder.AccountDiscriminator(decoder.PoolAccountName)
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	return (&decodertest.Writer{}).Raw(disc[:]).
		Pubkey(decodertest.Key("belief")).Pubkey(decodertest.Key("creator")).
		Pubkey(decodertest.Key("long")).Pubkey(decodertest.Key("short")).Pubkey(vault).
		U16(1).U32(1).U32(2).
		U64(1100).U64(1000).U64(60_000000).U64(40_000000).
		U128(q96).U128(q96).U128(big.NewInt(1)).U128(big.NewInt(1)).
		U64(5).I64(0).U8(255).Bytes()
}

func TestReaderPoolState(t *testing.T) {
	rpc := stub.NewRPCClient()
	vault := decodertest.Key("vault")
	rpc.SetAccount("pool", &solana.AccountInfo{Data: poolAccountData(vault), Slot: 77})
	rpc.SetTokenBalance(vault, &solana.TokenBalance{Amount: "100000000", Decimals: 6})

	r := NewReader(rpc, Options{RequestsPerSecond: 100, Burst: 2})
	state, err := r.PoolState(context.Background(), "pool")
	require.NoError(t, err)
	assert.Equal(t, uint64(77), state.Slot)
	assert.Equal(t, uint64(5), state.Account.CurrentEpoch)
	assert.Equal(t, "100000000", state.VaultBalance.String())
}

func TestReaderPoolStateMissing(t *testing.T) {
	r := NewReader(stub.NewRPCClient(), Options{})
	_, err := r.PoolState(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrPoolNotFound))
}

func TestReaderMissingVaultIsNotFatal(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetAccount("pool", &solana.AccountInfo{Data: poolAccountData(decodertest.Key("vault"))})

	state, err := NewReader(rpc, Options{}).PoolState(context.Background(), "pool")
	require.NoError(t, err)
	assert.True(t, state.VaultBalance.IsZero())
}

func TestPoolAddressDeterministic(t *testing.T) {
	program := decodertest.Key("program")
	a, err := PoolAddress(program, decodertest.Key("belief"))
	require.NoError(t, err)
	b, err := PoolAddress(program, decodertest.Key("belief"))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = PoolAddress(program, "not-a-key")
	assert.Error(t, err)
}
