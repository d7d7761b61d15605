package docs

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// WarmTarget names one document worth pre-fetching. Higher priority
// targets are warmed first.
type WarmTarget struct {
	Type     DocType
	Filename string
	Priority int
}

// Warmer pre-fetches a bounded, prioritized set of documents on an
// interval. A weighted semaphore caps in-flight warm fetches so warming
// never competes unboundedly with foreground requests.
type Warmer struct {
	orch        *Orchestrator
	targets     []WarmTarget
	interval    time.Duration
	gate        *semaphore.Weighted
	concurrency int64
	logger      zerolog.Logger
}

// NewWarmer creates a warmer. Targets are warmed in descending priority
// order, at most concurrency at a time.
func NewWarmer(orch *Orchestrator, targets []WarmTarget, interval time.Duration, concurrency int64, logger zerolog.Logger) *Warmer {
	if concurrency < 1 {
		concurrency = 1
	}
	sorted := make([]WarmTarget, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Warmer{
		orch:        orch,
		targets:     sorted,
		interval:    interval,
		gate:        semaphore.NewWeighted(concurrency),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run warms once immediately, then on every interval until the context
// is cancelled. Cancellation is a normal shutdown, not an error.
func (w *Warmer) Run(ctx context.Context) {
	w.warm(ctx)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.warm(ctx)
		}
	}
}

func (w *Warmer) warm(ctx context.Context) {
	runID := uuid.NewString()
	log := w.logger.With().Str("warm_run", runID).Logger()

	var warmed, failed atomic.Int64
	for _, target := range w.targets {
		// Acquire can succeed on a cancelled context when capacity is
		// free, so shutdown is checked explicitly.
		if ctx.Err() != nil {
			return
		}
		if err := w.gate.Acquire(ctx, 1); err != nil {
			return
		}
		t := target
		go func() {
			defer w.gate.Release(1)
			key := string(t.Type) + ":" + t.Filename
			if w.orch.cache.Exists(key) {
				return
			}
			if _, ok := w.orch.GetDocument(ctx, t.Type, t.Filename); ok {
				warmed.Add(1)
			} else {
				failed.Add(1)
			}
		}()
	}
	// Wait for the in-flight fetches of this pass to settle.
	if err := w.gate.Acquire(ctx, w.concurrency); err != nil {
		return
	}
	w.gate.Release(w.concurrency)

	if n, f := warmed.Load(), failed.Load(); n > 0 || f > 0 {
		log.Info().Int64("warmed", n).Int64("failed", f).Msg("cache warm pass finished")
	}
}

// TargetsFromDiscovery builds a warm list from a discovery result,
// keeping at most perType entries per category. Risks are prioritized
// over mitigations over frameworks, matching request traffic.
func TargetsFromDiscovery(risks, mitigations, frameworks []string, perType int) []WarmTarget {
	var out []WarmTarget
	add := func(names []string, typ DocType, prio int) {
		for i, n := range names {
			if i >= perType {
				return
			}
			out = append(out, WarmTarget{Type: typ, Filename: n, Priority: prio})
		}
	}
	add(risks, TypeRisk, 3)
	add(mitigations, TypeMitigation, 2)
	add(frameworks, TypeFramework, 1)
	return out
}
