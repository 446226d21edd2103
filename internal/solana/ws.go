package solana

import "context"

// WSClient streams program logs from the node's pubsub endpoint.
type WSClient interface {
	// SubscribeLogs returns a channel of notifications for transactions
	// mentioning any filter address, or every transaction when the filter
	// is empty. The subscription survives reconnects; Close ends it.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	Close() error
}

// LogsFilter narrows a logs subscription.
type LogsFilter struct {
	Mentions []string
}

// LogNotification carries the logs of one transaction as seen at Slot.
// Err holds the ledger's transaction error, nil on success.
type LogNotification struct {
	Signature string
	Slot      uint64
	Logs      []string
	Err       any
}

// Failed reports whether the transaction was rolled back on the ledger.
func (n LogNotification) Failed() bool {
	return n.Err != nil
}
