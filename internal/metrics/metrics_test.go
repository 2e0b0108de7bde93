package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	m := New()
	h := m.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/generate", "402")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveProvider("fal", "flux-dev", "success", 2*time.Second)
	m.ObserveGeneration("success", 3*time.Second)
	m.ObserveGeneration("", time.Second)
	m.ObserveCredits(3)
	m.ObserveCredits(0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("fal", "flux-dev", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("unknown")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.creditsDeducted))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveCredits(2)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "genstudio_credits_deducted_total 2"))
}

func TestCanonicalPath(t *testing.T) {
	require.Equal(t, "/", canonicalPath("/"))
	require.Equal(t, "/generate", canonicalPath("/generate"))
	require.Equal(t, "/v1/healthz", canonicalPath("/v1/healthz"))
	require.Equal(t, "/static", canonicalPath("/static/uploads/u/a.png"))
}
