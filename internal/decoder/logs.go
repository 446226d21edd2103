package decoder

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var (
	invokePattern = regexp.MustCompile(`^Program ([1-9A-HJ-NP-Za-km-z]{32,44}) invoke \[\d+\]$`)
	exitPattern   = regexp.MustCompile(`^Program ([1-9A-HJ-NP-Za-km-z]{32,44}) (?:success|failed)`)
)

const programDataPrefix = "Program data: "

// Decoder extracts events emitted by a single program.
type Decoder struct {
	programID string
}

// New creates a decoder for the given program id.
func New(programID string) *Decoder {
	return &Decoder{programID: programID}
}

// ProgramID returns the program the decoder listens to.
func (d *Decoder) ProgramID() string { return d.programID }

// Tx is the minimal transaction context needed to decode its logs.
type Tx struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	Logs      []string
	Failed    bool // the transaction errored; its events never took effect
}

// DecodeLogs returns the events in the transaction's logs, in emission order.
// Only "Program data" lines written while the decoder's program is the
// innermost executing program are considered; anything else is skipped.
func (d *Decoder) DecodeLogs(tx Tx) []Event {
	if tx.Failed || tx.Signature == "" {
		return nil
	}

	var (
		stack  []string
		events []Event
		seen   = make(map[Kind]int)
	)
	for _, line := range tx.Logs {
		if m := invokePattern.FindStringSubmatch(line); m != nil {
			stack = append(stack, m[1])
			continue
		}
		if m := exitPattern.FindStringSubmatch(line); m != nil {
			if n := len(stack); n > 0 && stack[n-1] == m[1] {
				stack = stack[:n-1]
			}
			continue
		}
		if !strings.HasPrefix(line, programDataPrefix) {
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != d.programID {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[len(programDataPrefix):]))
		if err != nil {
			continue
		}
		meta := Meta{Signature: tx.Signature, Slot: tx.Slot, BlockTime: tx.BlockTime}
		ev, ok := decodeEvent(data, meta)
		if !ok {
			continue
		}
		family := keyFamily(ev.Kind())
		meta.Ordinal = seen[family]
		seen[family]++
		events = append(events, withMeta(ev, meta))
	}
	return events
}

// keyFamily groups kinds whose rows share a table and therefore one key
// space. Trades and liquidity legs both land in the trades table.
func keyFamily(k Kind) Kind {
	if k == KindLiquidityAdded {
		return KindTrade
	}
	return k
}

func withMeta(ev Event, meta Meta) Event {
	switch e := ev.(type) {
	case TradeEvent:
		e.Meta = meta
		return e
	case SettlementEvent:
		e.Meta = meta
		return e
	case DepositEvent:
		e.Meta = meta
		return e
	case WithdrawEvent:
		e.Meta = meta
		return e
	case LiquidityAdded:
		e.Meta = meta
		return e
	case MarketDeployedEvent:
		e.Meta = meta
		return e
	}
	return ev
}
