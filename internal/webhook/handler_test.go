package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/decoder/decodertest"
	"belief-pool-indexer/internal/ingestion"
	"belief-pool-indexer/internal/projection"
	"belief-pool-indexer/internal/reconcile"
	"belief-pool-indexer/internal/relevance"
	"belief-pool-indexer/internal/stake"
	"belief-pool-indexer/internal/storage"
	"belief-pool-indexer/internal/storage/memory"
	"belief-pool-indexer/internal/units"
)

var (
	programID = decodertest.Key("program")
	poolAddr  = decodertest.Key("pool")
	q96       = new(big.Int).Lsh(big.NewInt(1), 96)
)

func init() {
	gin.SetMode(gin.TestMode)
}

func deployment() decoder.MarketDeployedEvent {
	return decoder.MarketDeployedEvent{
		Pool:              poolAddr,
		BeliefID:          decodertest.Key("belief"),
		Deployer:          decodertest.Key("deployer"),
		InitialDeposit:    units.AtomicFromInt64(100_000000),
		LongAllocation:    units.AtomicFromInt64(50_000000),
		ShortAllocation:   units.AtomicFromInt64(50_000000),
		LongTokens:        units.AtomicFromInt64(1000),
		ShortTokens:       units.AtomicFromInt64(1000),
		SqrtPriceLongX96:  q96,
		SqrtPriceShortX96: q96,
		F:                 1,
		BetaNum:           1,
		BetaDen:           2,
		Timestamp:         1_700_000_000,
	}
}

type delivery struct {
	sig    string
	slot   uint64
	failed bool
	events []decoder.Event
}

func body(t *testing.T, txs ...delivery) []byte {
	t.Helper()
	entries := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		var txErr any
		if tx.failed {
			txErr = map[string]any{"InstructionError": []any{0, "Custom"}}
		}
		entries = append(entries, map[string]any{
			"signature": tx.sig,
			"slot":      tx.slot,
			"blockTime": 1_700_000_000,
			"meta": map[string]any{
				"err":         txErr,
				"logMessages": decodertest.Logs(programID, tx.events...),
			},
		})
	}
	b, err := json.Marshal(entries)
	require.NoError(t, err)
	return b
}

func newEngine(stores *storage.Stores) *reconcile.Engine {
	return reconcile.NewEngine(reconcile.Deps{
		Stores:    stores,
		Projector: projection.NewProjector(stores.Pools, stores.Trades, nil, nil),
		Stake:     stake.NewUpdater(stores.Agents, stores.Balances, stores.Trades, stake.Options{}),
		Relevance: relevance.NewRecorder(stores.Relevance),
	}, reconcile.Options{})
}

func post(r http.Handler, path, auth string, payload []byte) (*httptest.ResponseRecorder, Response) {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestWebhook_ReconcilesDelivery(t *testing.T) {
	stores := memory.NewStores()
	r := NewRouter(Options{Decoder: decoder.New(programID), Handler: newEngine(stores)})

	payload := body(t,
		delivery{sig: "sig-deploy", slot: 5, events: []decoder.Event{deployment()}},
		delivery{sig: "sig-failed", slot: 6, failed: true, events: []decoder.Event{deployment()}},
	)
	w, resp := post(r, DefaultPath, "", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, resp.Transactions)
	assert.Equal(t, 1, resp.Events)
	assert.Equal(t, 1, resp.Outcomes[reconcile.OutcomeInserted])
	assert.Zero(t, resp.Failed)

	pool, err := stores.Pools.Get(context.Background(), poolAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), pool.LastSyncedSlot)

	w, resp = post(r, DefaultPath, "", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Outcomes[reconcile.OutcomeDuplicate])
}

func TestWebhook_SkippedEventsAreAcknowledged(t *testing.T) {
	stores := memory.NewStores()
	r := NewRouter(Options{Decoder: decoder.New(programID), Handler: newEngine(stores)})

	dep := decoder.DepositEvent{Depositor: decodertest.Key("stranger"), Amount: units.AtomicFromInt64(5_000000)}
	w, resp := post(r, DefaultPath, "", body(t, delivery{sig: "sig-dep", slot: 7, events: []decoder.Event{dep}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resp.Outcomes[reconcile.OutcomeSkipped])
}

func TestWebhook_HardFailureAsksForRedelivery(t *testing.T) {
	failing := ingestion.HandlerFunc(func(context.Context, decoder.Event) (reconcile.Outcome, error) {
		return reconcile.OutcomeFailed, errors.New("insert pool: connection reset")
	})
	r := NewRouter(Options{Decoder: decoder.New(programID), Handler: failing})

	w, resp := post(r, DefaultPath, "", body(t, delivery{sig: "sig-deploy", slot: 5, events: []decoder.Event{deployment()}}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, resp.Failed)
}

func TestWebhook_Authorization(t *testing.T) {
	var calls int
	counting := ingestion.HandlerFunc(func(context.Context, decoder.Event) (reconcile.Outcome, error) {
		calls++
		return reconcile.OutcomeInserted, nil
	})
	r := NewRouter(Options{
		Decoder: decoder.New(programID),
		Handler: counting,
		Path:    "/hooks/helius",
		Secret:  "s3cret",
	})
	payload := body(t, delivery{sig: "sig-deploy", slot: 5, events: []decoder.Event{deployment()}})

	w, _ := post(r, "/hooks/helius", "", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = post(r, "/hooks/helius", "wrong", payload)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, calls)

	w, _ = post(r, "/hooks/helius", "s3cret", payload)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = post(r, "/hooks/helius", "Bearer s3cret", payload)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, calls)
}

func TestWebhook_MalformedBody(t *testing.T) {
	r := NewRouter(Options{Decoder: decoder.New(programID), Handler: newEngine(memory.NewStores())})
	w, resp := post(r, DefaultPath, "", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestWebhook_HealthAndMetrics(t *testing.T) {
	r := NewRouter(Options{Decoder: decoder.New(programID), Handler: newEngine(memory.NewStores())})

	for _, path := range []string{"/healthz", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
