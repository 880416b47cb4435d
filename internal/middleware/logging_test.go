package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"incident-vault-sync/internal/common"

	"github.com/stretchr/testify/assert"
)

func TestLoggingPassesRequestThrough(t *testing.T) {
	called := false
	handler := Logging(common.GetLogger())(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/sync", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestLoggingDefaultsStatusToOK(t *testing.T) {
	handler := Logging(common.GetLogger())(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	handler := CORS(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	pre := httptest.NewRecorder()
	handler(pre, httptest.NewRequest(http.MethodOptions, "/status", nil))
	assert.Equal(t, http.StatusOK, pre.Code)
}
