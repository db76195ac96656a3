package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorLimiterAllowsWithinBurst(t *testing.T) {
	al := NewActorLimiter(100, 5)
	h := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestActorLimiterBlocksBeyondBurst(t *testing.T) {
	al := NewActorLimiter(0.001, 2)
	h := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestActorLimiterIsolatesPrincipals(t *testing.T) {
	al := NewActorLimiter(0.001, 1)
	h := al.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Exhaust one principal's budget.
	reqA := httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil)
	reqA = reqA.WithContext(WithIdentity(reqA.Context(), Identity{Principal: "acct:a"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, reqA)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, reqA)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different principal is unaffected.
	reqB := httptest.NewRequest(http.MethodGet, "/v1/campaigns", nil)
	reqB = reqB.WithContext(WithIdentity(reqB.Context(), Identity{Principal: "acct:b"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, reqB)
	require.Equal(t, http.StatusOK, rec.Code)
}
