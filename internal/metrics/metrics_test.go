package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RouteDecision("travel", "hotel", SourceClassifier)
	m.RouteDecision("travel", "hotel", SourceClassifier)
	m.RouteDecision("travel", "flight", SourceDefault)
	m.PersistenceFailure("save_turn")

	require.Equal(t, 2.0, testutil.ToFloat64(m.routeDecisions.WithLabelValues("travel", "hotel", SourceClassifier)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.routeDecisions.WithLabelValues("travel", "flight", SourceDefault)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.persistenceFailures.WithLabelValues("save_turn")))
}

func TestMetrics_HandlerExposesSeries(t *testing.T) {
	m := New()
	m.ObserveHandler("rag", 150*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `handler_duration_seconds_count{route="rag"} 1`))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RouteDecision("workspace", "media", SourceSticky)
		m.ObserveHandler("media", time.Second)
		m.PersistenceFailure("delete")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
