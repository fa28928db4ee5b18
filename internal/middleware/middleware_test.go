package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, subject string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	}})
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuth(t *testing.T) {
	var gotOwner string
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = GetOwnerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	future := time.Now().Add(time.Hour)
	tests := []struct {
		name   string
		header string
		status int
		owner  string
	}{
		{"valid", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "alice", future), http.StatusNoContent, "alice"},
		{"lowercase scheme", "bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "bob", future), http.StatusNoContent, "bob"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), "alice", future), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "alice", time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), "", future), http.StatusUnauthorized, ""},
		{"none alg", "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "alice", future), http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOwner = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.owner, gotOwner)
			if tt.status == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"ok":false`)
			}
		})
	}
}

func TestLogging_CorrelationAndFlush(t *testing.T) {
	var flushed bool
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-1", GetCorrelationID(r.Context()))
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = io.WriteString(w, "event: meta\n\n")
		f.Flush()
		flushed = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, flushed)
	assert.True(t, rec.Flushed)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
}

func TestLogging_GeneratesCorrelationID(t *testing.T) {
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestRequireJSON(t *testing.T) {
	h := RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method string
		ct     string
		status int
	}{
		{http.MethodPost, "application/json", http.StatusOK},
		{http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{http.MethodPost, "", http.StatusOK},
		{http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{http.MethodPatch, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{http.MethodGet, "text/plain", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.ct, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader("{}"))
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestLimitBody(t *testing.T) {
	var readErr error
	h := LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	assert.NoError(t, readErr)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("much too long")))
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, readErr, &maxErr)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
