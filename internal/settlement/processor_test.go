package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProcessorPostsRequest(t *testing.T) {
	var got EpochRequest
	var auth, idem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		idem = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, WithAPIKey("secret-key"))
	err := p.ProcessEpoch(context.Background(), EpochRequest{BeliefID: "b1", CurrentEpoch: 5})
	require.NoError(t, err)

	assert.Equal(t, EpochRequest{BeliefID: "b1", CurrentEpoch: 5}, got)
	assert.Equal(t, "Bearer secret-key", auth)
	assert.Equal(t, "b1:5", idem)
}

func TestHTTPProcessorSignsServiceToken(t *testing.T) {
	secret := "jwt-secret"
	var claims ServiceClaims
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProcessor(srv.URL, WithAPIKey("ignored"), WithJWTSecret(secret))
	require.NoError(t, p.ProcessEpoch(context.Background(), EpochRequest{BeliefID: "b2", CurrentEpoch: 1}))
	assert.Equal(t, "b2", claims.BeliefID)
	assert.Equal(t, "belief-pool-indexer", claims.Issuer)
}

func TestHTTPProcessorNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPProcessor(srv.URL).ProcessEpoch(context.Background(), EpochRequest{BeliefID: "b", CurrentEpoch: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakePublisher struct {
	msgs []*nats.Msg
}

func (f *fakePublisher) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.msgs = append(f.msgs, msg)
	return &jetstream.PubAck{Stream: "EPOCHS", Sequence: uint64(len(f.msgs))}, nil
}

func TestNATSProcessorSetsMsgID(t *testing.T) {
	pub := &fakePublisher{}
	p := NewNATSProcessor(pub, "belief.epochs")

	require.NoError(t, p.ProcessEpoch(context.Background(), EpochRequest{BeliefID: "b3", CurrentEpoch: 9}))
	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "belief.epochs", msg.Subject)
	assert.Equal(t, "b3:9", msg.Header.Get(nats.MsgIdHdr))

	var req EpochRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, uint64(9), req.CurrentEpoch)
}
