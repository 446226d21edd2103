// Package webhook receives enhanced-transaction deliveries over HTTP and
// feeds them through the reconciliation engine.
package webhook

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"belief-pool-indexer/internal/decoder"
	"belief-pool-indexer/internal/ingestion"
	"belief-pool-indexer/internal/observability"
	"belief-pool-indexer/internal/reconcile"
)

// DefaultPath is where deliveries are accepted when Options.Path is empty.
const DefaultPath = "/webhooks/ledger"

const maxBodyBytes = 10 << 20

// Options configures the router.
type Options struct {
	Decoder *decoder.Decoder
	Handler ingestion.Handler
	Path    string
	Secret  string // empty accepts unauthenticated deliveries
	Logger  *zap.Logger
}

// Response is the body returned for a delivery.
type Response struct {
	Transactions int                       `json:"transactions"`
	Events       int                       `json:"events"`
	Outcomes     map[reconcile.Outcome]int `json:"outcomes"`
	Failed       int                       `json:"failed"`
	Error        string                    `json:"error,omitempty"`
}

type handler struct {
	decoder *decoder.Decoder
	events  ingestion.Handler
	secret  string
	logger  *zap.Logger
}

// NewRouter builds the gin engine serving deliveries, /healthz and /metrics.
func NewRouter(opts Options) *gin.Engine {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	h := &handler{
		decoder: opts.Decoder,
		events:  opts.Handler,
		secret:  opts.Secret,
		logger:  opts.Logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", health)
	engine.GET("/metrics", gin.WrapH(observability.Handler()))
	engine.POST(opts.Path, h.requireSecret(), h.receive)
	return engine
}

func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireSecret accepts the secret either bare or as a bearer token.
func (h *handler) requireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.secret == "" {
			c.Next()
			return
		}
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		auth = strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(h.secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		c.Next()
	}
}

func (h *handler) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, Response{Error: "body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, Response{Error: "read body"})
		return
	}

	txs, err := decoder.ParseWebhook(body)
	if err != nil {
		h.logger.Warn("malformed webhook delivery", zap.Error(err))
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	resp := Response{Outcomes: make(map[reconcile.Outcome]int)}
	var total ingestion.Stats
	for _, tx := range txs {
		if tx.Failed {
			continue
		}
		events := h.decoder.DecodeLogs(tx)
		observability.RecordTransactionDecoded(tx.Slot)
		if len(events) == 0 {
			continue
		}
		st, err := ingestion.HandleTx(ctx, h.events, events)
		total.Add(st)
		if err != nil {
			resp.Failed++
			h.logger.Error("webhook transaction failed",
				zap.String("signature", tx.Signature),
				zap.Uint64("slot", tx.Slot),
				zap.Error(err))
		}
	}

	resp.Transactions = total.Transactions
	resp.Events = total.Events
	for k, v := range total.Outcomes {
		resp.Outcomes[k] = v
	}

	// A non-2xx status makes the provider redeliver; replays are idempotent.
	status := http.StatusOK
	if resp.Failed > 0 {
		status = http.StatusInternalServerError
	}
	h.logger.Debug("webhook delivery handled",
		zap.Int("transactions", resp.Transactions),
		zap.Int("events", resp.Events),
		zap.Int("failed", resp.Failed))
	c.JSON(status, resp)
}
