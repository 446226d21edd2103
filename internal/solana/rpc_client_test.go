package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every request with the value returned by handle.
func rpcServer(t *testing.T, handle func(req rpcRequest) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req),
		})
	}))
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		if req.Method != "getTransaction" {
			t.Errorf("expected method getTransaction, got %s", req.Method)
		}
		cfg, _ := req.Params[1].(map[string]any)
		if cfg["commitment"] != CommitmentConfirmed {
			t.Errorf("expected confirmed commitment, got %v", cfg["commitment"])
		}
		return map[string]any{
			"slot":      123456,
			"blockTime": 1700000000,
			"meta": map[string]any{
				"err":         nil,
				"logMessages": []string{"Program log: Hello", "Program log: World"},
			},
		}
	})
	defer server.Close()

	tx, err := NewHTTPClient(server.URL).GetTransaction(context.Background(), "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}
	if tx.BlockTime == nil || *tx.BlockTime != 1700000000 {
		t.Errorf("unexpected blockTime %v", tx.BlockTime)
	}
	if len(tx.Logs) != 2 {
		t.Errorf("expected 2 log messages, got %d", len(tx.Logs))
	}
	if tx.Err != nil {
		t.Errorf("expected nil err, got %v", tx.Err)
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest) any { return nil })
	defer server.Close()

	_, err := NewHTTPClient(server.URL).GetTransaction(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		cfg, _ := req.Params[1].(map[string]any)
		if cfg["before"] != "sigX" || cfg["limit"] != float64(2) {
			t.Errorf("unexpected config %v", cfg)
		}
		return []map[string]any{
			{"signature": "sig2", "slot": 20, "blockTime": 1700000020, "err": nil},
			{"signature": "sig1", "slot": 10, "err": map[string]any{"InstructionError": []any{0, "Custom"}}},
		}
	})
	defer server.Close()

	sigs, err := NewHTTPClient(server.URL).GetSignaturesForAddress(context.Background(), "program", &SignaturesOpts{Before: "sigX", Limit: 2})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 2 || sigs[0].Signature != "sig2" || sigs[1].Slot != 10 {
		t.Fatalf("unexpected signatures %+v", sigs)
	}
	if sigs[1].Err == nil {
		t.Error("expected err on failed signature")
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	server := rpcServer(t, func(rpcRequest) any {
		return map[string]any{
			"context": map[string]any{"slot": 99},
			"value": map[string]any{
				"lamports": 1000,
				"owner":    "owner1",
				"data":     []string{base64.StdEncoding.EncodeToString(payload), "base64"},
			},
		}
	})
	defer server.Close()

	acc, err := NewHTTPClient(server.URL).GetAccountInfo(context.Background(), "pool")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if string(acc.Data) != string(payload) || acc.Slot != 99 || acc.Owner != "owner1" {
		t.Errorf("unexpected account %+v", acc)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest) any {
		return map[string]any{"context": map[string]any{"slot": 1}, "value": nil}
	})
	defer server.Close()

	_, err := NewHTTPClient(server.URL).GetAccountInfo(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_GetTokenAccountBalance(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		if req.Method != "getTokenAccountBalance" {
			t.Errorf("unexpected method %s", req.Method)
		}
		return map[string]any{
			"context": map[string]any{"slot": 7},
			"value":   map[string]any{"amount": "100000000", "decimals": 6, "uiAmountString": "100"},
		}
	})
	defer server.Close()

	bal, err := NewHTTPClient(server.URL).GetTokenAccountBalance(context.Background(), "vault")
	if err != nil {
		t.Fatalf("GetTokenAccountBalance: %v", err)
	}
	if bal.Amount != "100000000" || bal.Decimals != 6 || bal.Slot != 7 {
		t.Errorf("unexpected balance %+v", bal)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 42})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	slot, err := client.GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}
	if slot != 42 {
		t.Errorf("expected slot 42, got %d", slot)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32602, "message": "invalid params"},
		})
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond)).GetSlot(context.Background())
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
		t.Fatalf("expected RPCError -32602, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Second), WithMaxRetries(5))
	if _, err := client.GetSlot(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
