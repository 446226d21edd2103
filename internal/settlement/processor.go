package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EpochRequest is the payload sent to the epoch processing collaborator.
type EpochRequest struct {
	BeliefID     string `json:"belief_id"`
	CurrentEpoch uint64 `json:"current_epoch"`
}

// DedupeKey identifies the request for collaborator-side idempotency.
func (r EpochRequest) DedupeKey() string {
	return fmt.Sprintf("%s:%d", r.BeliefID, r.CurrentEpoch)
}

// EpochProcessor runs belief-score redistribution for a completed epoch.
// Implementations must be safe to call again for the same request.
type EpochProcessor interface {
	ProcessEpoch(ctx context.Context, req EpochRequest) error
}

// NopProcessor drops every request.
type NopProcessor struct{}

// ProcessEpoch implements EpochProcessor.
func (NopProcessor) ProcessEpoch(context.Context, EpochRequest) error { return nil }

// HTTPProcessor POSTs the request as JSON.
type HTTPProcessor struct {
	endpoint  string
	apiKey    string
	jwtSecret []byte
	client    *http.Client
}

// HTTPOption configures an HTTPProcessor.
type HTTPOption func(*HTTPProcessor)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProcessor) { p.apiKey = key }
}

// WithJWTSecret signs a short-lived HS256 service token per request.
// It takes precedence over WithAPIKey.
func WithJWTSecret(secret string) HTTPOption {
	return func(p *HTTPProcessor) {
		if secret != "" {
			p.jwtSecret = []byte(secret)
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProcessor) { p.client = c }
}

// NewHTTPProcessor creates an HTTP epoch processor client.
func NewHTTPProcessor(endpoint string, opts ...HTTPOption) *HTTPProcessor {
	p := &HTTPProcessor{endpoint: endpoint, client: http.DefaultClient}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServiceClaims identify the indexer to the collaborator.
type ServiceClaims struct {
	BeliefID string `json:"belief_id"`
	jwt.RegisteredClaims
}

// ProcessEpoch implements EpochProcessor.
func (p *HTTPProcessor) ProcessEpoch(ctx context.Context, req EpochRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.DedupeKey())

	token, err := p.token(req)
	if err != nil {
		return err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post epoch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("epoch processor returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (p *HTTPProcessor) token(req EpochRequest) (string, error) {
	if len(p.jwtSecret) == 0 {
		return p.apiKey, nil
	}
	now := time.Now().UTC()
	claims := ServiceClaims{
		BeliefID: req.BeliefID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "belief-pool-indexer",
			Subject:   "epoch-processing",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return s, nil
}

// Publisher is the part of jetstream.JetStream used by NATSProcessor.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSProcessor publishes requests to a JetStream subject. The stream's
// duplicate window drops repeats carrying the same Nats-Msg-Id.
type NATSProcessor struct {
	js      Publisher
	subject string
}

// NewNATSProcessor creates a JetStream epoch processor client.
func NewNATSProcessor(js Publisher, subject string) *NATSProcessor {
	return &NATSProcessor{js: js, subject: subject}
}

// ProcessEpoch implements EpochProcessor.
func (p *NATSProcessor) ProcessEpoch(ctx context.Context, req EpochRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, req.DedupeKey())

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// EnsureStream creates the stream backing subject if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, subject string) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{subject},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: 24 * time.Hour,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return nil
}
