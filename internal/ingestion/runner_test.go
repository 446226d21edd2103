package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/decoder/decodertest"
	"belief-pool-indexer/internal/solana"
)

var programID = decodertest.Key("program")

type fakeWS struct {
	ch      chan solana.LogNotification
	filters []solana.LogsFilter
	err     error
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.filters = append(f.filters, filter)
	return f.ch, nil
}

func (f *fakeWS) Close() error { return nil }

func TestRunner_DecodesAndSubmits(t *testing.T) {
	ws := &fakeWS{ch: make(chan solana.LogNotification, 4)}
	rec := newRecorder()
	m := NewManager(rec, ManagerOptions{Workers: 2})
	m.Start(context.Background())

	r := NewRunner(RunnerOptions{WS: ws, Decoder: decoder.New(programID), Manager: m})

	ws.ch <- solana.LogNotification{
		Signature: "sig-ok",
		Slot:      5,
		Logs:      decodertest.Logs(programID, deposit("", 0, 7), deposit("", 0, 8)),
	}
	ws.ch <- solana.LogNotification{
		Signature: "sig-failed",
		Slot:      6,
		Logs:      decodertest.Logs(programID, deposit("", 0, 9)),
		Err:       map[string]any{"InstructionError": []any{0, "Custom"}},
	}
	ws.ch <- solana.LogNotification{Signature: "sig-noise", Slot: 7, Logs: []string{"Program log: hello"}}
	close(ws.ch)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	m.Stop()

	require.Len(t, ws.filters, 1)
	assert.Equal(t, []string{programID}, ws.filters[0].Mentions)
	assert.Equal(t, []int{0, 1}, rec.bySig["sig-ok"])
	assert.NotContains(t, rec.bySig, "sig-failed")
	assert.NotContains(t, rec.bySig, "sig-noise")
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ws := &fakeWS{ch: make(chan solana.LogNotification)}
	m := NewManager(newRecorder(), ManagerOptions{})
	m.Start(context.Background())
	defer m.Stop()

	r := NewRunner(RunnerOptions{WS: ws, Decoder: decoder.New(programID), Manager: m})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunner_SubscribeError(t *testing.T) {
	ws := &fakeWS{err: errors.New("dial tcp: connection refused")}
	r := NewRunner(RunnerOptions{WS: ws, Decoder: decoder.New(programID), Manager: NewManager(newRecorder(), ManagerOptions{})})
	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "subscribe to program logs")
}
