package decoder

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/mr-tron/base58"

	"belief-pool-indexer/internal/units"
)

// Field layouts (Borsh, little endian) following the 8-byte discriminator
// sha256("event:<Name>")[:8]:
//
//	TradeEvent:          pool, trader: pubkey; side, trade_type: u8 (0 = long/buy);
//	                     tokens_traded, usdc_amount, usdc_to_stake: u64;
//	                     s_long_before, s_long_after, s_short_before, s_short_after: u64;
//	                     sqrt_price_long_x96, sqrt_price_short_x96: u128;
//	                     r_long_after, r_short_after, vault_balance_after: u64; timestamp: i64
//	SettlementEvent:     pool, belief_id: pubkey; epoch: u64; bd_score, market_prediction: u32;
//	                     f_long, f_short: u64; r_long_before, r_short_before,
//	                     r_long_after, r_short_after: u64;
//	                     s_scale_long_before, s_scale_long_after,
//	                     s_scale_short_before, s_scale_short_after: u128; timestamp: i64
//	DepositEvent:        depositor: pubkey; amount: u64; timestamp: i64
//	WithdrawEvent:       agent, recipient: pubkey; amount: u64; timestamp: i64
//	LiquidityAdded:      pool, provider: pubkey; usdc_amount, long_tokens_out, short_tokens_out: u64;
//	                     s_long_before, s_short_before, s_long_after, s_short_after: u64;
//	                     r_long_after, r_short_after, vault_balance_after: u64;
//	                     sqrt_price_long_x96, sqrt_price_short_x96: u128; timestamp: i64
//	MarketDeployedEvent: pool, belief_id, deployer: pubkey;
//	                     initial_deposit, long_allocation, short_allocation,
//	                     long_tokens, short_tokens: u64;
//	                     sqrt_price_long_x96, sqrt_price_short_x96: u128;
//	                     f: u16; beta_num, beta_den: u32; timestamp: i64
//
// Scores and settlement factors are millionths.

const discriminatorLen = 8

var errShortData = errors.New("event data too short")

var eventDiscriminators = map[[discriminatorLen]byte]Kind{}

func init() {
	for _, k := range []Kind{KindTrade, KindSettlement, KindDeposit, KindWithdraw, KindLiquidityAdded, KindMarketDeployed} {
		eventDiscriminators[EventDiscriminator(k)] = k
	}
}

// EventDiscriminator returns the Anchor discriminator of an event kind.
func EventDiscriminator(k Kind) [discriminatorLen]byte {
	return discriminator("event:" + string(k))
}

// AccountDiscriminator returns the Anchor discriminator of an account type.
func AccountDiscriminator(name string) [discriminatorLen]byte {
	return discriminator("account:" + name)
}

func discriminator(preimage string) [discriminatorLen]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [discriminatorLen]byte
	copy(d[:], sum[:discriminatorLen])
	return d
}

// borshReader walks a little-endian buffer. The first short read sets err
// and every later read returns zero values.
type borshReader struct {
	data []byte
	off  int
	err  error
}

func (r *borshReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = errShortData
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *borshReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *borshReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *borshReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *borshReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *borshReader) i64() int64 { return int64(r.u64()) }

func (r *borshReader) amount() units.AtomicAmount { return units.AtomicFromUint64(r.u64()) }

func (r *borshReader) u128() *big.Int {
	b := r.take(16)
	if b == nil {
		return new(big.Int)
	}
	be := make([]byte, 16)
	for i := range b {
		be[15-i] = b[i]
	}
	return new(big.Int).SetBytes(be)
}

func (r *borshReader) pubkey() string {
	b := r.take(32)
	if b == nil {
		return ""
	}
	return base58.Encode(b)
}

// decodeEvent decodes one "Program data" payload. ok is false for payloads
// that are not one of the six events or are truncated.
func decodeEvent(data []byte, meta Meta) (Event, bool) {
	if len(data) < discriminatorLen {
		return nil, false
	}
	var d [discriminatorLen]byte
	copy(d[:], data[:discriminatorLen])
	kind, ok := eventDiscriminators[d]
	if !ok {
		return nil, false
	}

	r := &borshReader{data: data, off: discriminatorLen}
	var ev Event
	switch kind {
	case KindTrade:
		ev = readTrade(r, meta)
	case KindSettlement:
		ev = readSettlement(r, meta)
	case KindDeposit:
		ev = DepositEvent{Meta: meta, Depositor: r.pubkey(), Amount: r.amount(), Timestamp: r.i64()}
	case KindWithdraw:
		ev = WithdrawEvent{Meta: meta, Agent: r.pubkey(), Recipient: r.pubkey(), Amount: r.amount(), Timestamp: r.i64()}
	case KindLiquidityAdded:
		ev = readLiquidity(r, meta)
	case KindMarketDeployed:
		ev = readDeployment(r, meta)
	}
	if r.err != nil {
		return nil, false
	}
	return ev, true
}

// Struct literal fields are evaluated in source order, which matches the
// wire order below.

func readTrade(r *borshReader, meta Meta) TradeEvent {
	return TradeEvent{
		Meta:                   meta,
		Pool:                   r.pubkey(),
		Trader:                 r.pubkey(),
		IsLong:                 r.u8() == 0,
		IsBuy:                  r.u8() == 0,
		TokensTraded:           r.amount(),
		USDCAmount:             r.amount(),
		USDCToStake:            r.amount(),
		SLongBefore:            r.amount(),
		SLongAfter:             r.amount(),
		SShortBefore:           r.amount(),
		SShortAfter:            r.amount(),
		SqrtPriceLongX96After:  r.u128(),
		SqrtPriceShortX96After: r.u128(),
		RLongAfter:             r.amount(),
		RShortAfter:            r.amount(),
		VaultBalanceAfter:      r.amount(),
		Timestamp:              r.i64(),
	}
}

func readSettlement(r *borshReader, meta Meta) SettlementEvent {
	return SettlementEvent{
		Meta:              meta,
		Pool:              r.pubkey(),
		BeliefID:          r.pubkey(),
		Epoch:             r.u64(),
		BDScore:           new(big.Int).SetUint64(uint64(r.u32())),
		MarketPrediction:  new(big.Int).SetUint64(uint64(r.u32())),
		FLong:             new(big.Int).SetUint64(r.u64()),
		FShort:            new(big.Int).SetUint64(r.u64()),
		RLongBefore:       r.amount(),
		RShortBefore:      r.amount(),
		RLongAfter:        r.amount(),
		RShortAfter:       r.amount(),
		SScaleLongBefore:  r.u128(),
		SScaleLongAfter:   r.u128(),
		SScaleShortBefore: r.u128(),
		SScaleShortAfter:  r.u128(),
		Timestamp:         r.i64(),
	}
}

func readLiquidity(r *borshReader, meta Meta) LiquidityAdded {
	return LiquidityAdded{
		Meta:                   meta,
		Pool:                   r.pubkey(),
		Provider:               r.pubkey(),
		USDCAmount:             r.amount(),
		LongTokensOut:          r.amount(),
		ShortTokensOut:         r.amount(),
		SLongBefore:            r.amount(),
		SShortBefore:           r.amount(),
		SLongAfter:             r.amount(),
		SShortAfter:            r.amount(),
		RLongAfter:             r.amount(),
		RShortAfter:            r.amount(),
		VaultBalanceAfter:      r.amount(),
		SqrtPriceLongX96After:  r.u128(),
		SqrtPriceShortX96After: r.u128(),
		Timestamp:              r.i64(),
	}
}

func readDeployment(r *borshReader, meta Meta) MarketDeployedEvent {
	return MarketDeployedEvent{
		Meta:              meta,
		Pool:              r.pubkey(),
		BeliefID:          r.pubkey(),
		Deployer:          r.pubkey(),
		InitialDeposit:    r.amount(),
		LongAllocation:    r.amount(),
		ShortAllocation:   r.amount(),
		LongTokens:        r.amount(),
		ShortTokens:       r.amount(),
		SqrtPriceLongX96:  r.u128(),
		SqrtPriceShortX96: r.u128(),
		F:                 r.u16(),
		BetaNum:           r.u32(),
		BetaDen:           r.u32(),
		Timestamp:         r.i64(),
	}
}
