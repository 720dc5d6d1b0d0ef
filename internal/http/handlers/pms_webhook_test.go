package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncsvc "github.com/ashgrovepsych/practice-sync/internal/sync"
)

type stubIncremental struct {
	events []syncsvc.Event
	err    error
}

func (s *stubIncremental) IncrementalSync(_ context.Context, event syncsvc.Event) (*syncsvc.SyncResult, error) {
	s.events = append(s.events, event)
	return &syncsvc.SyncResult{Success: s.err == nil}, s.err
}

type stubDeduper struct {
	seen map[string]bool
}

func (s *stubDeduper) Seen(_ context.Context, deliveryID string) bool {
	if s.seen[deliveryID] {
		return true
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	s.seen[deliveryID] = true
	return false
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(secret string, payload []byte, deliveryID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pms", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signPayload(secret, payload))
	if deliveryID != "" {
		req.Header.Set("X-Delivery-ID", deliveryID)
	}
	return req
}

func TestWebhookDispatchesEvent(t *testing.T) {
	runner := &stubIncremental{}
	h := NewPMSWebhookHandler("topsecret", runner, nil, nil, nil)

	payload := []byte(`{"event":"appointment.updated","timestamp":"2026-08-29T09:00:00Z","data":{"id":"appt-1","practitioner_id":"prac-1"}}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest("topsecret", payload, ""))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.events, 1)
	evt := runner.events[0]
	assert.Equal(t, "appointment.updated", evt.Kind)
	assert.Equal(t, "appt-1", evt.RemoteID)
	assert.Equal(t, "prac-1", evt.PractitionerID)
	assert.Equal(t, "2026-08-29T09:00:00Z", evt.Timestamp.Format("2006-01-02T15:04:05Z"))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	runner := &stubIncremental{}
	h := NewPMSWebhookHandler("topsecret", runner, nil, nil, nil)

	payload := []byte(`{"event":"appointment.updated","data":{"id":"appt-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pms", bytes.NewReader(payload))
	req.Header.Set("X-Signature", signPayload("wrong-secret", payload))

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, runner.events, "unsigned payloads never reach the sync service")
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h := NewPMSWebhookHandler("topsecret", &stubIncremental{}, nil, nil, nil)

	payload := []byte(`{"event":"appointment.updated","data":{"id":"appt-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pms", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookDeduplicatesDeliveries(t *testing.T) {
	runner := &stubIncremental{}
	h := NewPMSWebhookHandler("topsecret", runner, &stubDeduper{seen: map[string]bool{}}, nil, nil)

	payload := []byte(`{"event":"patient.updated","data":{"id":"pat-1"}}`)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.Handle(rec, webhookRequest("topsecret", payload, "delivery-42"))
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
	}

	assert.Len(t, runner.events, 1, "replayed deliveries are processed once")
}

func TestWebhookUnresolvedPractitionerAnswersOK(t *testing.T) {
	runner := &stubIncremental{err: fmt.Errorf("%w: prac-x", syncsvc.ErrPractitionerUnresolved)}
	h := NewPMSWebhookHandler("topsecret", runner, nil, nil, nil)

	payload := []byte(`{"event":"appointment.created","data":{"id":"appt-1","practitioner_id":"prac-x"}}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest("topsecret", payload, ""))

	assert.Equal(t, http.StatusOK, rec.Code, "a retry cannot fix an unknown practitioner")
}

func TestWebhookProcessingFailure(t *testing.T) {
	runner := &stubIncremental{err: errors.New("db down")}
	h := NewPMSWebhookHandler("topsecret", runner, nil, nil, nil)

	payload := []byte(`{"event":"appointment.created","data":{"id":"appt-1"}}`)
	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest("topsecret", payload, ""))

	assert.Equal(t, http.StatusInternalServerError, rec.Code, "transient failures invite a retry")
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	h := NewPMSWebhookHandler("topsecret", &stubIncremental{}, nil, nil, nil)

	payload := []byte(`{"event":`)
	rec := httptest.NewRecorder()
	h.Handle(rec, webhookRequest("topsecret", payload, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload = []byte(`{"event":"","data":{"id":""}}`)
	rec = httptest.NewRecorder()
	h.Handle(rec, webhookRequest("topsecret", payload, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
