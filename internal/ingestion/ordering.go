package ingestion

import (
	"slices"

	"belief-pool-indexer/internal/solana"
)

// oldestFirst puts getSignaturesForAddress results, which arrive newest
// first, into ledger order.
func oldestFirst(infos []solana.SignatureInfo) []solana.SignatureInfo {
	out := slices.Clone(infos)
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b solana.SignatureInfo) int {
		switch {
		case a.Slot < b.Slot:
			return -1
		case a.Slot > b.Slot:
			return 1
		default:
			return 0
		}
	})
	return out
}
