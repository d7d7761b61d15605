package httpc

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation, calls pass through.
	BreakerOpen                         // Calls rejected immediately.
	BreakerHalfOpen                     // One probe call allowed to test recovery.
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker tracks failures for one remote host. Thread-safe: all state
// transitions use a mutex.
//
// Invariant: at most one probe is outstanding in half-open. CanExecute
// consumes the probe slot under the lock, so concurrent callers cannot
// both probe; the loser is rejected as if the breaker were still open.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
	threshold   int
	recovery    time.Duration
	now         func() time.Time // injectable clock for testing
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerThreshold sets the failure count that trips the breaker open.
func WithBreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithBreakerRecovery sets how long the breaker stays open before a
// probe is allowed.
func WithBreakerRecovery(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.recovery = d }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// NewBreaker creates a breaker with defaults: 5 failures to open,
// 60s recovery before half-open.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:     BreakerClosed,
		threshold: 5,
		recovery:  60 * time.Second,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// CanExecute reports whether a call may proceed. Becoming eligible after
// the recovery timeout transitions the breaker to half-open and claims
// the single probe slot for the caller.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeHalfOpen()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// OnSuccess records a successful call, closing the breaker.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.state = BreakerClosed
}

// OnCancel releases a claimed probe slot when the caller abandoned the
// call. Cancellation says nothing about the host, so the state and the
// failure count are untouched; the next caller may probe again.
func (b *Breaker) OnCancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// OnFailure records a failed call. A half-open probe failure reopens
// immediately; in closed state the breaker opens once the threshold is
// reached.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// RetryAfter returns the remaining cooldown while open, zero otherwise.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return 0
	}
	if remaining := b.recovery - b.now().Sub(b.lastFailure); remaining > 0 {
		return remaining
	}
	return 0
}

// maybeHalfOpen transitions open -> half-open once the recovery timeout
// has elapsed. Must be called under lock.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.recovery {
		b.state = BreakerHalfOpen
		b.probing = false
	}
}

// BreakerStatus is a point-in-time snapshot for observability.
type BreakerStatus struct {
	Host       string        `json:"host"`
	State      string        `json:"state"`
	Failures   int           `json:"failures"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (b *Breaker) status(host string) BreakerStatus {
	st := b.State()
	b.mu.Lock()
	failures := b.failures
	b.mu.Unlock()
	return BreakerStatus{
		Host:       host,
		State:      st.String(),
		Failures:   failures,
		RetryAfter: b.RetryAfter(),
	}
}

// breakerRegistry holds one breaker per scheme+host. The read path for
// an existing breaker takes only the read lock.
type breakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	opts     []BreakerOption
}

func newBreakerRegistry(opts ...BreakerOption) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

func (r *breakerRegistry) get(host string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[host]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double check
	if b, ok := r.breakers[host]; ok {
		return b
	}
	b = NewBreaker(r.opts...)
	r.breakers[host] = b
	return b
}

func (r *breakerRegistry) snapshot() []BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BreakerStatus, 0, len(r.breakers))
	for host, b := range r.breakers {
		out = append(out, b.status(host))
	}
	return out
}
