package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
)

type sampleBody struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	Locale  string `json:"locale" validate:"omitempty,oneof=pl en"`
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event_id":"`+uuid.NewString()+`","locale":"pl"}`))
	var body sampleBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "pl", body.Locale)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event_id":"x","extra":1}`))
	err := DecodeJSONBody(req, &sampleBody{})

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Equal(t, ReasonInvalidBody, typed.Reason())
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event_id":"not-a-uuid","locale":"de"}`))
	err := DecodeJSONBody(req, &sampleBody{})

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a valid uuid", details["event_id"])
	assert.Equal(t, "must be one of [pl en]", details["locale"])
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("registrationId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "registrationId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "eventId")
	assert.Error(t, err)
}

func TestParseQuerySecondsBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?wait=40", nil)
	_, err := ParseQuerySeconds(req, "wait", 25*time.Second)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, "invalid_wait"))

	req = httptest.NewRequest(http.MethodGet, "/?wait=abc", nil)
	_, err = ParseQuerySeconds(req, "wait", 25*time.Second)
	assert.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/?wait=5", nil)
	v, err := ParseQuerySeconds(req, "wait", 25*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err = ParseQuerySeconds(req, "wait", 25*time.Second)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestNormalizeLocale(t *testing.T) {
	cases := map[string]string{
		"pl":                   "pl",
		" pl-PL ":              "pl",
		"EN_gb":                "en",
		"":                     "",
		"p1":                   "",
		"verylonglocalestring": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeLocale(in), in)
	}
}

func TestDecodeJSONBodyRejectsTrailingAndEmptyBodies(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":      ``,
		"trailing":   `{"event_id":"` + uuid.NewString() + `"}{"event_id":"x"}`,
		"wrong type": `{"event_id":7}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		err := DecodeJSONBody(req, &sampleBody{})
		require.Error(t, err, name)
		assert.True(t, pkgerrors.HasReason(err, ReasonInvalidBody), name)
	}
}
