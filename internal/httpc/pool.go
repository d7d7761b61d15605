package httpc

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// pool wraps one http.Transport with a connection ceiling and tracks the
// requests currently using it, so a superseded pool can be drained
// before its connections are released.
type pool struct {
	transport *http.Transport
	maxConns  int
	inflight  sync.WaitGroup
}

func newPool(maxConns, keepAlive int) *pool {
	return &pool{
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxConnsPerHost:     maxConns,
			MaxIdleConns:        maxConns,
			MaxIdleConnsPerHost: keepAlive,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		maxConns: maxConns,
	}
}

func (p *pool) acquire() { p.inflight.Add(1) }
func (p *pool) release() { p.inflight.Done() }

// drainAndClose blocks until every request dispatched on this pool has
// finished, then releases its idle connections. Called on a superseded
// pool from its own goroutine so a swap never stalls the caller.
func (p *pool) drainAndClose() {
	p.inflight.Wait()
	p.transport.CloseIdleConnections()
}

// PoolStats is a point-in-time snapshot of connection pool utilization.
type PoolStats struct {
	ActiveRequests  int64         `json:"active_requests"`
	PeakRequests    int64         `json:"peak_requests"`
	TotalRequests   int64         `json:"total_requests"`
	FailedRequests  int64         `json:"failed_requests"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	MaxConns        int           `json:"max_conns"`
	PoolUtilization float64       `json:"pool_utilization"`
	LastAdjustment  time.Time     `json:"last_adjustment"`
}
