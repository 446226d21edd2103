package decoder

import (
	"encoding/json"
	"fmt"
)

// webhookTx is one enhanced-transaction entry of a webhook delivery.
type webhookTx struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Timestamp *int64 `json:"timestamp"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err         json.RawMessage `json:"err"`
		LogMessages []string        `json:"logMessages"`
	} `json:"meta"`
	// Some providers send the raw transaction wrapper instead.
	Transaction *struct {
		Signatures []string `json:"signatures"`
	} `json:"transaction"`
}

// ParseWebhook splits a webhook body into transactions. The body is either a
// JSON array of transactions or a single transaction object.
func ParseWebhook(body []byte) ([]Tx, error) {
	var entries []webhookTx
	if err := json.Unmarshal(body, &entries); err != nil {
		var single webhookTx
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("decode webhook body: %w", err)
		}
		entries = []webhookTx{single}
	}

	txs := make([]Tx, 0, len(entries))
	for _, e := range entries {
		sig := e.Signature
		if sig == "" && e.Transaction != nil && len(e.Transaction.Signatures) > 0 {
			sig = e.Transaction.Signatures[0]
		}
		if sig == "" || e.Meta == nil {
			continue
		}
		bt := e.BlockTime
		if bt == nil {
			bt = e.Timestamp
		}
		txs = append(txs, Tx{
			Signature: sig,
			Slot:      e.Slot,
			BlockTime: bt,
			Logs:      e.Meta.LogMessages,
			Failed:    isErr(e.Meta.Err),
		})
	}
	return txs, nil
}

// DecodeWebhook decodes every event in a webhook body.
func (d *Decoder) DecodeWebhook(body []byte) ([]Event, error) {
	txs, err := ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, tx := range txs {
		events = append(events, d.DecodeLogs(tx)...)
	}
	return events, nil
}

func isErr(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
