package ingestion

import (
	"testing"

	"belief-pool-indexer/internal/solana"
)

func TestOldestFirst(t *testing.T) {
	in := []solana.SignatureInfo{
		{Signature: "d", Slot: 30},
		{Signature: "c", Slot: 20},
		{Signature: "b", Slot: 20},
		{Signature: "a", Slot: 10},
	}
	out := oldestFirst(in)

	want := []string{"a", "b", "c", "d"}
	for i, s := range want {
		if out[i].Signature != s {
			t.Fatalf("position %d: got %s, want %s", i, out[i].Signature, s)
		}
	}
	if in[0].Signature != "d" {
		t.Errorf("input was modified")
	}
}

func TestOldestFirst_Empty(t *testing.T) {
	if got := oldestFirst(nil); len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
}
