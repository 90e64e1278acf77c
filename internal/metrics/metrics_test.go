package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/upiscope/internal/domain"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(domain.Transaction{
		State: domain.StateSettled, Latency: 2 * time.Second,
		AnomalyFlag: true, AnomalyScore: 0.6,
		AnomalyReasons: []string{"amount_deviation"}, InjectedPattern: "amount_outlier",
	})
	m.Observe(domain.Transaction{State: domain.StateFailed, InjectedPattern: "odd_hour"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("SETTLED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flagged.WithLabelValues("amount_deviation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.caught.WithLabelValues("amount_outlier")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.caught.WithLabelValues("odd_hour")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.injected.WithLabelValues("odd_hour")))
}

func TestObserveAppend(t *testing.T) {
	m := New()
	m.ObserveAppend("redis", time.Millisecond, nil)
	m.ObserveAppend("redis", time.Millisecond, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appendFailures.WithLabelValues("redis")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("/transactions", "200")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `upiscope_http_requests_total{code="200",route="/transactions"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
