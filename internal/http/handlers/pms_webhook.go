package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashgrovepsych/practice-sync/internal/observability/metrics"
	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
	"github.com/ashgrovepsych/practice-sync/pkg/logging"
)

// IncrementalRunner applies one change event.
type IncrementalRunner interface {
	IncrementalSync(ctx context.Context, event syncsvc.Event) (*syncsvc.SyncResult, error)
}

// DeliveryDeduper suppresses replayed webhook deliveries.
type DeliveryDeduper interface {
	Seen(ctx context.Context, deliveryID string) bool
}

// PMSWebhookHandler receives change notifications from the PM system.
type PMSWebhookHandler struct {
	secret  string
	runner  IncrementalRunner
	deduper DeliveryDeduper
	metrics *metrics.SyncMetrics
	logger  *logging.Logger
}

// NewPMSWebhookHandler creates the webhook receiver. deduper and metrics
// may be nil.
func NewPMSWebhookHandler(secret string, runner IncrementalRunner, deduper DeliveryDeduper, m *metrics.SyncMetrics, logger *logging.Logger) *PMSWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PMSWebhookHandler{
		secret:  strings.TrimSpace(secret),
		runner:  runner,
		deduper: deduper,
		metrics: m,
		logger:  logger,
	}
}

type pmsWebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		ID             string `json:"id"`
		PractitionerID string `json:"practitioner_id"`
	} `json:"data"`
}

// Handle processes POST /webhooks/pms. The PM system retries non-2xx
// responses, so processing failures that a retry cannot fix still answer
// 200 after being logged.
func (h *PMSWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret == "" {
		h.logger.Error("webhook secret not configured")
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !verifyWebhookSignature(h.secret, payload, r.Header.Get("X-Signature")) {
		h.logger.Warn("invalid webhook signature")
		h.observe("unknown", "rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt pmsWebhookPayload
	if err := json.Unmarshal(payload, &evt); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if evt.Event == "" || evt.Data.ID == "" {
		http.Error(w, "missing event or entity id", http.StatusBadRequest)
		return
	}

	deliveryID := r.Header.Get("X-Delivery-ID")
	if h.deduper != nil && h.deduper.Seen(r.Context(), deliveryID) {
		h.logger.Info("duplicate webhook delivery ignored", "delivery_id", deliveryID, "event", evt.Event)
		h.observe(evt.Event, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	_, err = h.runner.IncrementalSync(r.Context(), syncsvc.Event{
		Kind:           evt.Event,
		RemoteID:       evt.Data.ID,
		PractitionerID: evt.Data.PractitionerID,
		Timestamp:      evt.Timestamp,
	})
	switch {
	case err == nil:
		h.observe(evt.Event, "ok")
	case errors.Is(err, syncsvc.ErrPractitionerUnresolved):
		// Retrying the delivery will not make the practitioner appear.
		h.logger.Warn("webhook references unresolved practitioner", "event", evt.Event, "remote_id", evt.Data.ID, "error", err)
		h.observe(evt.Event, "skipped")
	default:
		h.logger.Error("webhook event processing failed", "event", evt.Event, "remote_id", evt.Data.ID, "error", err)
		h.observe(evt.Event, "error")
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *PMSWebhookHandler) observe(event, status string) {
	h.metrics.ObserveWebhook(event, status)
}

func verifyWebhookSignature(secret string, payload []byte, header string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(header) == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	providedSig, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), providedSig)
}
