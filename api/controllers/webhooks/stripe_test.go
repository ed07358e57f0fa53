package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/pitlane-hq/pitlane-backend/api/responses"
	stripewebhook "github.com/pitlane-hq/pitlane-backend/internal/webhooks/stripe"
	pkgstripe "github.com/pitlane-hq/pitlane-backend/pkg/stripe"
)

const testSecret = "whsec_test"

func TestStripeWebhookSuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_"+uuid.NewString())
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier(testSecret), newGuard(t, newInMemoryStore()), nil)

	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertReceived(t, rec)
	assert.Equal(t, 1, service.calls)

	rec2 := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec2.Code)
	assertReceived(t, rec2)
	assert.Equal(t, 1, service.calls, "duplicate delivery must not be processed")
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "evt_bad")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier(testSecret), newGuard(t, newInMemoryStore()), nil)

	rec := serve(handler, payload, "t=1,v1=invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body responses.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ReasonSignatureInvalid, body.Error.Reason)
	assert.Zero(t, service.calls)
}

func TestStripeWebhookMissingSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t, "evt_nosig")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier(testSecret), nil, nil)

	rec := serve(handler, payload, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, service.calls)
}

func TestStripeWebhookWrongSecret(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_secret")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier("whsec_other"), nil, nil)

	rec := serve(handler, payload, header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, service.calls)
}

func TestStripeWebhookProcessingErrorStillAcknowledgesAndReleases(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_"+uuid.NewString())
	service := &fakeStripeWebhookService{err: errors.New("db down")}
	store := newInMemoryStore()
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier(testSecret), newGuard(t, store), nil)

	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assertReceived(t, rec)
	assert.Empty(t, store.data, "claim must be released after a failure")

	service.err = nil
	serve(handler, payload, header)
	assert.Equal(t, 2, service.calls, "redelivery after a failure is processed again")
}

func TestStripeWebhookGuardFailureStillProcesses(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_"+uuid.NewString())
	service := &fakeStripeWebhookService{}
	store := newInMemoryStore()
	store.failSetNX = true
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier(testSecret), newGuard(t, store), nil)

	rec := serve(handler, payload, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, service.calls)
}

func TestStripeWebhookPassesVerifiedEvent(t *testing.T) {
	payload, header := buildSignedEvent(t, "evt_typed")
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, pkgstripe.NewWebhookVerifier(testSecret), nil, nil)

	serve(handler, payload, header)
	require.NotNil(t, service.last)
	assert.Equal(t, "evt_typed", service.last.ID)
	assert.Equal(t, stripe.EventTypeCheckoutSessionCompleted, service.last.Type)
}

func serve(handler http.Handler, payload []byte, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/webhook", bytes.NewReader(payload))
	if header != "" {
		req.Header.Set("Stripe-Signature", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func assertReceived(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	var body struct {
		Data receivedResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Received)
}

func newGuard(t *testing.T, store *inMemoryStore) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(store, time.Minute, "stripe-webhook")
	require.NoError(t, err)
	return guard
}

func buildSignedEvent(t *testing.T, eventID string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "api_version": %q,
  "type": "checkout.session.completed",
  "data": {"object": {"id": "cs_test_1", "object": "checkout.session", "payment_status": "paid"}}
}`, eventID, stripe.APIVersion))
	return payload, buildStripeSignatureHeader(payload, testSecret, time.Now().Unix())
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls int
	err   error
	last  *stripe.Event
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.calls++
	f.last = event
	return f.err
}

type inMemoryStore struct {
	mu        sync.Mutex
	data      map[string]string
	failSetNX bool
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetNX {
		return false, errors.New("redis unavailable")
	}
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("pl:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
