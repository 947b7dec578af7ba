package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoshare/internal/flow"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteFlowErrorMapping(t *testing.T) {
	cases := []struct {
		kind   flow.ErrorKind
		status int
		code   string
	}{
		{flow.KindValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{flow.KindUnderage, http.StatusBadRequest, "UNDERAGE"},
		{flow.KindInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{flow.KindInvalidCode, http.StatusForbidden, "INVALID_CODE"},
		{flow.KindCodeExpired, http.StatusForbidden, "CODE_EXPIRED"},
		{flow.KindAttemptsExceeded, http.StatusForbidden, "ATTEMPTS_EXCEEDED"},
		{flow.KindAccountLocked, http.StatusForbidden, "ACCOUNT_LOCKED"},
		{flow.KindRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{flow.KindDuplicateEmail, http.StatusConflict, "DUPLICATE_EMAIL"},
		{flow.KindDuplicateUsername, http.StatusConflict, "DUPLICATE_USERNAME"},
		{flow.KindStepOrder, http.StatusConflict, "STEP_ORDER"},
		{flow.KindEmailDeliveryFailed, http.StatusBadGateway, "EMAIL_DELIVERY_FAILED"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeFlowError(rec, &flow.Error{Kind: tc.kind, Message: "nope"})

			assert.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tc.code, body["code"])
			assert.Equal(t, "nope", body["message"])
		})
	}
}

func TestWriteFlowErrorCooldownAndField(t *testing.T) {
	rec := httptest.NewRecorder()
	writeFlowError(rec, &flow.Error{
		Kind:       flow.KindRateLimited,
		Message:    "wait",
		RetryAfter: 42 * time.Second,
	})
	body := decodeBody(t, rec)
	assert.Equal(t, float64(42), body["cooldown"])

	rec = httptest.NewRecorder()
	writeFlowError(rec, &flow.Error{
		Kind:    flow.KindValidation,
		Field:   "username",
		Message: "too short",
	})
	body = decodeBody(t, rec)
	assert.Equal(t, "username", body["field"])
	_, hasCooldown := body["cooldown"]
	assert.False(t, hasCooldown)
}

func TestWriteFlowErrorUnexpected(t *testing.T) {
	rec := httptest.NewRecorder()
	writeFlowError(rec, errors.New("pg down"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.NotContains(t, body["message"], "pg", "internal detail must not leak")
}

func TestClientIP(t *testing.T) {
	proxies := parseProxyCIDRs([]string{"10.0.0.0/8", "192.0.2.1"})

	newReq := func(remote string, hdr map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		for k, v := range hdr {
			r.Header.Set(k, v)
		}
		return r
	}

	t.Run("direct connection", func(t *testing.T) {
		r := newReq("203.0.113.7:4431", nil)
		assert.Equal(t, "203.0.113.7", clientIP(r, proxies))
	})

	t.Run("forwarded header from untrusted sender is ignored", func(t *testing.T) {
		r := newReq("203.0.113.7:4431", map[string]string{"X-Forwarded-For": "198.51.100.9"})
		assert.Equal(t, "203.0.113.7", clientIP(r, proxies))
	})

	t.Run("trusted proxy, first XFF hop wins", func(t *testing.T) {
		r := newReq("10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.9, 10.1.2.3"})
		assert.Equal(t, "198.51.100.9", clientIP(r, proxies))
	})

	t.Run("trusted proxy falls back to X-Real-IP", func(t *testing.T) {
		r := newReq("192.0.2.1:80", map[string]string{"X-Real-IP": "198.51.100.42"})
		assert.Equal(t, "198.51.100.42", clientIP(r, proxies))
	})

	t.Run("no proxies configured means no header trust", func(t *testing.T) {
		r := newReq("10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.9"})
		assert.Equal(t, "10.1.2.3", clientIP(r, nil))
	})
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, validateEmail("anna@example.com"))
	assert.False(t, validateEmail(""))
	assert.False(t, validateEmail("not-an-email"))
	assert.False(t, validateEmail("@example.com"))
}

func TestDeriveLocation(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", deriveLocation(r))

	r.Header.Set("CF-IPCountry", "DE")
	assert.Equal(t, "DE", deriveLocation(r))

	r.Header.Set("X-City", "Berlin")
	assert.Equal(t, "Berlin, DE", deriveLocation(r))
}
