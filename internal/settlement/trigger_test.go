package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu    sync.Mutex
	calls []EpochRequest
	err   error
	delay time.Duration
}

func (p *recordingProcessor) ProcessEpoch(ctx context.Context, req EpochRequest) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.err
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestTriggerDispatchesOncePerEpoch(t *testing.T) {
	proc := &recordingProcessor{}
	tr := NewTrigger(proc, Options{})

	for i := 0; i < 3; i++ {
		tr.Dispatch("belief", "pool", 5)
	}
	tr.Dispatch("belief", "pool", 6)
	tr.Wait()

	require.Equal(t, 2, proc.count())
	epochs := map[uint64]bool{}
	for _, c := range proc.calls {
		assert.Equal(t, "belief", c.BeliefID)
		epochs[c.CurrentEpoch] = true
	}
	assert.True(t, epochs[5])
	assert.True(t, epochs[6])
}

func TestTriggerFailureIsContained(t *testing.T) {
	proc := &recordingProcessor{err: errors.New("collaborator down")}
	tr := NewTrigger(proc, Options{})

	tr.Dispatch("belief", "pool", 1)
	tr.Wait()
	assert.Equal(t, 1, proc.count())
}

func TestTriggerTimeout(t *testing.T) {
	proc := &recordingProcessor{delay: time.Second}
	tr := NewTrigger(proc, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	tr.Dispatch("belief", "pool", 1)
	tr.Wait()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, proc.count())
}

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string) (bool, error) {
	return false, errors.New("redis unavailable")
}

func TestTriggerProceedsWhenGuardFails(t *testing.T) {
	proc := &recordingProcessor{}
	tr := NewTrigger(proc, Options{Guard: failingGuard{}})

	tr.Dispatch("belief", "pool", 2)
	tr.Wait()
	assert.Equal(t, 1, proc.count())
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	first, err := g.Claim(ctx, "k")
	require.NoError(t, err)
	assert.True(t, first)
	again, _ := g.Claim(ctx, "k")
	assert.False(t, again)
}
