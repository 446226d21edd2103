package decoder

import (
	"bytes"
	"errors"
	"math/big"

	"belief-pool-indexer/internal/units"
)

// PoolAccountName is the Anchor account type of a pool.
const PoolAccountName = "ContentPool"

// ErrNotPoolAccount is returned for data without the pool discriminator.
var ErrNotPoolAccount = errors.New("not a pool account")

// PoolAccount is the on-ledger pool state read during resynchronization.
//
// Layout after the discriminator: belief_id, creator, long_mint, short_mint,
// vault: pubkey; f: u16; beta_num, beta_den: u32; s_long, s_short: u64;
// r_long, r_short: u64; sqrt_price_long_x96, sqrt_price_short_x96: u128;
// s_scale_long_q64, s_scale_short_q64: u128; current_epoch: u64;
// last_settle_ts: i64; bump: u8.
type PoolAccount struct {
	BeliefID  string
	Creator   string
	LongMint  string
	ShortMint string
	Vault     string

	F       uint16
	BetaNum uint32
	BetaDen uint32

	SLong  units.AtomicAmount
	SShort units.AtomicAmount
	RLong  units.AtomicAmount
	RShort units.AtomicAmount

	SqrtPriceLongX96  *big.Int
	SqrtPriceShortX96 *big.Int
	SScaleLongQ64     *big.Int
	SScaleShortQ64    *big.Int

	CurrentEpoch uint64
	LastSettleTS int64
	Bump         uint8
}

// DecodePoolAccount decodes raw account data.
func DecodePoolAccount(data []byte) (*PoolAccount, error) {
	disc := AccountDiscriminator(PoolAccountName)
	if len(data) < discriminatorLen || !bytes.Equal(data[:discriminatorLen], disc[:]) {
		return nil, ErrNotPoolAccount
	}
	r := &borshReader{data: data, off: discriminatorLen}
	acc := &PoolAccount{
		BeliefID:          r.pubkey(),
		Creator:           r.pubkey(),
		LongMint:          r.pubkey(),
		ShortMint:         r.pubkey(),
		Vault:             r.pubkey(),
		F:                 r.u16(),
		BetaNum:           r.u32(),
		BetaDen:           r.u32(),
		SLong:             r.amount(),
		SShort:            r.amount(),
		RLong:             r.amount(),
		RShort:            r.amount(),
		SqrtPriceLongX96:  r.u128(),
		SqrtPriceShortX96: r.u128(),
		SScaleLongQ64:     r.u128(),
		SScaleShortQ64:    r.u128(),
		CurrentEpoch:      r.u64(),
		LastSettleTS:      r.i64(),
		Bump:              r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return acc, nil
}
