package docs

import (
	"sync"
	"sync/atomic"
	"time"
)

// Health classifies a pipeline stage by its success rate.
type Health string

const (
	HealthHealthy  Health = "healthy"  // success rate >= 0.9
	HealthDegraded Health = "degraded" // >= 0.7
	HealthFailing  Health = "failing"  // >= 0.5
	HealthCritical Health = "critical"
)

// healthRank orders Health values from best to worst for aggregation.
func healthRank(h Health) int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthFailing:
		return 2
	default:
		return 3
	}
}

// stage isolates one pipeline step: it tracks outcomes so a failure in
// one stage is observable without aborting or corrupting its siblings.
type stage struct {
	name      string
	successes atomic.Int64
	failures  atomic.Int64

	mu        sync.Mutex
	lastErr   string
	lastErrAt time.Time
}

func newStage(name string) *stage {
	return &stage{name: name}
}

func (s *stage) ok() {
	s.successes.Add(1)
}

func (s *stage) fail(err error, now time.Time) {
	s.failures.Add(1)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.lastErrAt = now
	s.mu.Unlock()
}

// StageStatus is a point-in-time snapshot of one stage.
type StageStatus struct {
	Name         string    `json:"name"`
	SuccessCount int64     `json:"success_count"`
	ErrorCount   int64     `json:"error_count"`
	SuccessRate  float64   `json:"success_rate"`
	Health       Health    `json:"health"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
}

func (s *stage) status() StageStatus {
	succ := s.successes.Load()
	fail := s.failures.Load()
	st := StageStatus{
		Name:         s.name,
		SuccessCount: succ,
		ErrorCount:   fail,
		SuccessRate:  1,
	}
	if total := succ + fail; total > 0 {
		st.SuccessRate = float64(succ) / float64(total)
	}
	st.Health = classify(st.SuccessRate)

	s.mu.Lock()
	st.LastError = s.lastErr
	st.LastErrorAt = s.lastErrAt
	s.mu.Unlock()
	return st
}

func classify(rate float64) Health {
	switch {
	case rate >= 0.9:
		return HealthHealthy
	case rate >= 0.7:
		return HealthDegraded
	case rate >= 0.5:
		return HealthFailing
	default:
		return HealthCritical
	}
}

// HealthStatus aggregates the pipeline stages; Status is the worst
// stage classification.
type HealthStatus struct {
	Status             Health        `json:"status"`
	Stages             []StageStatus `json:"stages"`
	SecurityViolations int64         `json:"security_violations"`
}
