// Package decodertest builds program log lines for tests of packages that
// consume the decoder.
package decodertest

import (
	"encoding/base64"
	"encoding/binary"
	"math/big"

	"github.com/mr-tron/base58"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/units"
)

// Writer is a minimal Borsh encoder.
type Writer struct {
	buf []byte
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Raw(b []byte) *Writer { w.buf = append(w.buf, b...); return w }

func (w *Writer) U8(v uint8) *Writer { w.buf = append(w.buf, v); return w }

func (w *Writer) U16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) U32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) U64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *Writer) I64(v int64) *Writer { return w.U64(uint64(v)) }

func (w *Writer) Amount(a units.AtomicAmount) *Writer { return w.U64(a.Big().Uint64()) }

func (w *Writer) U128(v *big.Int) *Writer {
	be := make([]byte, 16)
	if v != nil {
		v.FillBytes(be)
	}
	for i := 15; i >= 0; i-- {
		w.buf = append(w.buf, be[i])
	}
	return w
}

// Pubkey appends a base58 key. Invalid keys encode as 32 zero bytes.
func (w *Writer) Pubkey(s string) *Writer {
	b, err := base58.Decode(s)
	if err != nil || len(b) != 32 {
		b = make([]byte, 32)
	}
	return w.Raw(b)
}

func start(k decoder.Kind) *Writer {
	d := decoder.EventDiscriminator(k)
	return (&Writer{}).Raw(d[:])
}

func boolByte(b bool) uint8 {
	if b {
		return 0
	}
	return 1
}

// Encode returns the Borsh payload of an event.
func Encode(ev decoder.Event) []byte {
	switch e := ev.(type) {
	case decoder.TradeEvent:
		return start(decoder.KindTrade).
			Pubkey(e.Pool).Pubkey(e.Trader).
			U8(boolByte(e.IsLong)).U8(boolByte(e.IsBuy)).
			Amount(e.TokensTraded).Amount(e.USDCAmount).Amount(e.USDCToStake).
			Amount(e.SLongBefore).Amount(e.SLongAfter).Amount(e.SShortBefore).Amount(e.SShortAfter).
			U128(e.SqrtPriceLongX96After).U128(e.SqrtPriceShortX96After).
			Amount(e.RLongAfter).Amount(e.RShortAfter).Amount(e.VaultBalanceAfter).
			I64(e.Timestamp).Bytes()
	case decoder.SettlementEvent:
		return start(decoder.KindSettlement).
			Pubkey(e.Pool).Pubkey(e.BeliefID).U64(e.Epoch).
			U32(uint32(bigU64(e.BDScore))).U32(uint32(bigU64(e.MarketPrediction))).
			U64(bigU64(e.FLong)).U64(bigU64(e.FShort)).
			Amount(e.RLongBefore).Amount(e.RShortBefore).Amount(e.RLongAfter).Amount(e.RShortAfter).
			U128(e.SScaleLongBefore).U128(e.SScaleLongAfter).U128(e.SScaleShortBefore).U128(e.SScaleShortAfter).
			I64(e.Timestamp).Bytes()
	case decoder.DepositEvent:
		return start(decoder.KindDeposit).Pubkey(e.Depositor).Amount(e.Amount).I64(e.Timestamp).Bytes()
	case decoder.WithdrawEvent:
		return start(decoder.KindWithdraw).Pubkey(e.Agent).Pubkey(e.Recipient).Amount(e.Amount).I64(e.Timestamp).Bytes()
	case decoder.LiquidityAdded:
		return start(decoder.KindLiquidityAdded).
			Pubkey(e.Pool).Pubkey(e.Provider).
			Amount(e.USDCAmount).Amount(e.LongTokensOut).Amount(e.ShortTokensOut).
			Amount(e.SLongBefore).Amount(e.SShortBefore).Amount(e.SLongAfter).Amount(e.SShortAfter).
			Amount(e.RLongAfter).Amount(e.RShortAfter).Amount(e.VaultBalanceAfter).
			U128(e.SqrtPriceLongX96After).U128(e.SqrtPriceShortX96After).
			I64(e.Timestamp).Bytes()
	case decoder.MarketDeployedEvent:
		return start(decoder.KindMarketDeployed).
			Pubkey(e.Pool).Pubkey(e.BeliefID).Pubkey(e.Deployer).
			Amount(e.InitialDeposit).Amount(e.LongAllocation).Amount(e.ShortAllocation).
			Amount(e.LongTokens).Amount(e.ShortTokens).
			U128(e.SqrtPriceLongX96).U128(e.SqrtPriceShortX96).
			U16(e.F).U32(e.BetaNum).U32(e.BetaDen).
			I64(e.Timestamp).Bytes()
	}
	return nil
}

// DataLine returns the "Program data" log line of an event.
func DataLine(ev decoder.Event) string {
	return "Program data: " + base64.StdEncoding.EncodeToString(Encode(ev))
}

// Logs wraps event lines in an invocation of programID, as the runtime does.
func Logs(programID string, events ...decoder.Event) []string {
	logs := []string{"Program " + programID + " invoke [1]", "Program log: Instruction: Handle"}
	for _, ev := range events {
		logs = append(logs, DataLine(ev))
	}
	return append(logs, "Program "+programID+" consumed 42000 of 200000 compute units", "Program "+programID+" success")
}

// Key returns a deterministic 32-byte base58 key for a label.
func Key(label string) string {
	b := make([]byte, 32)
	copy(b, label)
	b[31] = 1
	return base58.Encode(b)
}

func bigU64(v *big.Int) uint64 {
	if v == nil {
		return 0
	}
	return v.Uint64()
}
