package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisecdocs/docpipe/internal/cache"
	"github.com/aisecdocs/docpipe/internal/httpc"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCumulativeSeriesScrapeAsCounters(t *testing.T) {
	m := New(Sources{
		CacheStats: func() cache.Stats { return cache.Stats{Hits: 3, Misses: 1, CurrentSize: 2} },
		PoolStats: func() httpc.PoolStats {
			return httpc.PoolStats{TotalRequests: 7, FailedRequests: 1, MaxConns: 10, AvgResponseTime: 250 * time.Millisecond}
		},
		Breakers:           func() []httpc.BreakerStatus { return nil },
		SecurityViolations: func() int64 { return 4 },
	})

	body := scrape(t, m)
	assert.Contains(t, body, "# TYPE docpipe_cache_hits_total counter")
	assert.Contains(t, body, "# TYPE docpipe_pool_requests_total counter")
	assert.Contains(t, body, "# TYPE docpipe_pool_failed_requests_total counter")
	assert.Contains(t, body, "# TYPE docpipe_security_violations_total counter")
	assert.Contains(t, body, "# TYPE docpipe_cache_entries gauge")
	assert.Contains(t, body, "# TYPE docpipe_pool_max_conns gauge")

	assert.Contains(t, body, "docpipe_cache_hits_total 3")
	assert.Contains(t, body, "docpipe_pool_requests_total 7")
	assert.Contains(t, body, "docpipe_security_violations_total 4")
	assert.Contains(t, body, "docpipe_pool_avg_response_seconds 0.25")
}

func TestBreakersOpenGauge(t *testing.T) {
	state := []httpc.BreakerStatus{
		{Host: "a.example", State: "closed"},
		{Host: "b.example", State: "open"},
		{Host: "c.example", State: "half_open"},
	}
	m := New(Sources{Breakers: func() []httpc.BreakerStatus { return state }})

	body := scrape(t, m)
	assert.Contains(t, body, "docpipe_breakers_open 2")
}
