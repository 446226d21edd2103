// Package decoder turns raw program logs and webhook payloads into typed
// ledger events. It performs no I/O.
package decoder

import (
	"fmt"
	"math/big"

	"belief-pool-indexer/internal/units"
)

// Kind identifies one of the six program events.
type Kind string

const (
	KindTrade          Kind = "TradeEvent"
	KindSettlement     Kind = "SettlementEvent"
	KindDeposit        Kind = "DepositEvent"
	KindWithdraw       Kind = "WithdrawEvent"
	KindLiquidityAdded Kind = "LiquidityAdded"
	KindMarketDeployed Kind = "MarketDeployedEvent"
)

// Meta is the transaction context every event carries.
type Meta struct {
	Signature string
	Slot      uint64
	BlockTime *int64 // unix seconds
	// Ordinal counts earlier events in the transaction that write to the
	// same table: trades and liquidity additions share one count, every
	// other kind has its own.
	Ordinal int
}

// Key is the idempotency key of the event: the signature, suffixed with the
// ordinal for the second and later events of one table in a transaction.
func (m Meta) Key() string {
	if m.Ordinal == 0 {
		return m.Signature
	}
	return fmt.Sprintf("%s:%d", m.Signature, m.Ordinal)
}

// EventMeta returns the transaction context.
func (m Meta) EventMeta() Meta { return m }

// Event is any decoded program event.
type Event interface {
	Kind() Kind
	EventMeta() Meta
}

// TradeEvent is emitted on every buy and sell.
type TradeEvent struct {
	Meta
	Pool   string
	Trader string
	IsLong bool
	IsBuy  bool

	TokensTraded units.AtomicAmount
	USDCAmount   units.AtomicAmount // usdc_to_trade on buys, usdc_out on sells
	USDCToStake  units.AtomicAmount // skim credited to the trader's custodian stake

	SLongBefore  units.AtomicAmount
	SLongAfter   units.AtomicAmount
	SShortBefore units.AtomicAmount
	SShortAfter  units.AtomicAmount

	SqrtPriceLongX96After  *big.Int
	SqrtPriceShortX96After *big.Int

	RLongAfter        units.AtomicAmount
	RShortAfter       units.AtomicAmount
	VaultBalanceAfter units.AtomicAmount
	Timestamp         int64
}

func (TradeEvent) Kind() Kind { return KindTrade }

// SettlementEvent closes an epoch. Epoch is the pool's new current epoch,
// which is also the epoch the settlement row is keyed by.
type SettlementEvent struct {
	Meta
	Pool             string
	BeliefID         string
	Epoch            uint64
	BDScore          *big.Int // millionths
	MarketPrediction *big.Int // millionths
	FLong            *big.Int // millionths
	FShort           *big.Int // millionths

	RLongBefore  units.AtomicAmount
	RShortBefore units.AtomicAmount
	RLongAfter   units.AtomicAmount
	RShortAfter  units.AtomicAmount

	SScaleLongBefore  *big.Int // Q64.64
	SScaleLongAfter   *big.Int
	SScaleShortBefore *big.Int
	SScaleShortAfter  *big.Int
	Timestamp         int64
}

func (SettlementEvent) Kind() Kind { return KindSettlement }

// DepositEvent is a direct custodian deposit.
type DepositEvent struct {
	Meta
	Depositor string
	Amount    units.AtomicAmount
	Timestamp int64
}

func (DepositEvent) Kind() Kind { return KindDeposit }

// WithdrawEvent is a custodian withdrawal.
type WithdrawEvent struct {
	Meta
	Agent     string
	Recipient string
	Amount    units.AtomicAmount
	Timestamp int64
}

func (WithdrawEvent) Kind() Kind { return KindWithdraw }

// LiquidityAdded is a bilateral deposit minting both sides at once.
type LiquidityAdded struct {
	Meta
	Pool           string
	Provider       string
	USDCAmount     units.AtomicAmount
	LongTokensOut  units.AtomicAmount
	ShortTokensOut units.AtomicAmount

	SLongBefore  units.AtomicAmount
	SShortBefore units.AtomicAmount
	SLongAfter   units.AtomicAmount
	SShortAfter  units.AtomicAmount

	RLongAfter        units.AtomicAmount
	RShortAfter       units.AtomicAmount
	VaultBalanceAfter units.AtomicAmount

	SqrtPriceLongX96After  *big.Int
	SqrtPriceShortX96After *big.Int
	Timestamp              int64
}

func (LiquidityAdded) Kind() Kind { return KindLiquidityAdded }

// MarketDeployedEvent creates a pool.
type MarketDeployedEvent struct {
	Meta
	Pool     string
	BeliefID string
	Deployer string

	InitialDeposit  units.AtomicAmount
	LongAllocation  units.AtomicAmount
	ShortAllocation units.AtomicAmount
	LongTokens      units.AtomicAmount
	ShortTokens     units.AtomicAmount

	SqrtPriceLongX96  *big.Int
	SqrtPriceShortX96 *big.Int

	F         uint16
	BetaNum   uint32
	BetaDen   uint32
	Timestamp int64
}

func (MarketDeployedEvent) Kind() Kind { return KindMarketDeployed }
