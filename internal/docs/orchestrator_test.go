package docs

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aisecdocs/docpipe/internal/cache"
	"github.com/aisecdocs/docpipe/internal/httpc"
)

const poisoningDoc = `---
title: Data Poisoning
severity: high
---

# Data Poisoning

Manipulating training data to change model behaviour.
`

type contentUpstream struct {
	srv   *httptest.Server
	calls atomic.Int64
	docs  map[string]string
}

func newContentUpstream(t *testing.T) *contentUpstream {
	t.Helper()
	u := &contentUpstream{docs: map[string]string{
		"/risks/9_data-poisoning.md":      poisoningDoc,
		"/mitigations/6_rate-limiting.md": "# Rate Limiting\n\nNo front matter here.\n",
	}}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		doc, ok := u.docs[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newTestOrchestrator(t *testing.T, upstream *contentUpstream) *Orchestrator {
	t.Helper()
	docCache := cache.New[Document](cache.Config{MaxSize: 100, DefaultTTL: time.Hour, Compression: true})
	t.Cleanup(docCache.Close)

	client := httpc.New(httpc.Config{Timeout: 5 * time.Second, MaxAttempts: 1})
	t.Cleanup(client.Close)

	return New(docCache, client, Config{ContentBaseURL: upstream.srv.URL},
		WithLogger(zerolog.Nop()),
		WithClock(fixedClock()),
	)
}

func TestGetDocumentFetchesOnceThenServesFromCache(t *testing.T) {
	upstream := newContentUpstream(t)
	o := newTestOrchestrator(t, upstream)
	ctx := context.Background()

	doc, ok := o.GetDocument(ctx, TypeRisk, "9_data-poisoning.md")
	require.True(t, ok)
	assert.Equal(t, int64(1), upstream.calls.Load())
	assert.Equal(t, "9_data-poisoning.md", doc.Filename)
	assert.Equal(t, TypeRisk, doc.Type)
	assert.Equal(t, upstream.srv.URL+"/risks/9_data-poisoning.md", doc.URL)
	assert.Equal(t, "Data Poisoning", doc.Metadata["title"])
	assert.Equal(t, "high", doc.Metadata["severity"])
	assert.Contains(t, doc.Body, "# Data Poisoning")
	assert.Equal(t, poisoningDoc, doc.FullText)

	assert.True(t, o.cache.Exists("risk:9_data-poisoning.md"))

	// Second call within the TTL: zero HTTP calls, identical record.
	cached, ok := o.GetDocument(ctx, TypeRisk, "9_data-poisoning.md")
	require.True(t, ok)
	assert.Equal(t, int64(1), upstream.calls.Load())
	assert.Equal(t, doc.FullText, cached.FullText)
	assert.Equal(t, doc.Metadata["title"], cached.Metadata["title"])
	assert.True(t, doc.RetrievedAt.Equal(cached.RetrievedAt))

	stats := o.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestPathTraversalRejectedWithoutNetwork(t *testing.T) {
	upstream := newContentUpstream(t)
	o := newTestOrchestrator(t, upstream)
	ctx := context.Background()

	for _, name := range []string{
		"../../etc/passwd",
		"..\\windows\\system32",
		"risks/nested.md",
		"bad\x00name.md",
		"",
	} {
		_, ok := o.GetDocument(ctx, TypeRisk, name)
		assert.False(t, ok, "filename %q must be rejected", name)
	}
	assert.Zero(t, upstream.calls.Load(), "validation failures must not reach the network")
	assert.Equal(t, int64(5), o.SecurityViolations())
}

func TestFetchFailureReturnsAbsent(t *testing.T) {
	upstream := newContentUpstream(t)
	o := newTestOrchestrator(t, upstream)

	_, ok := o.GetDocument(context.Background(), TypeRisk, "does-not-exist.md")
	assert.False(t, ok)

	health := o.Health()
	assert.Equal(t, HealthCritical, health.Status, "one failed fetch and no successes")
	for _, s := range health.Stages {
		if s.Name == "fetch" {
			assert.Equal(t, int64(1), s.ErrorCount)
			assert.NotEmpty(t, s.LastError)
		}
	}
}

func TestParserFailsSoftOnPlainDocument(t *testing.T) {
	upstream := newContentUpstream(t)
	o := newTestOrchestrator(t, upstream)

	doc, ok := o.GetDocument(context.Background(), TypeMitigation, "6_rate-limiting.md")
	require.True(t, ok)
	assert.Empty(t, doc.Metadata)
	assert.Equal(t, doc.FullText, doc.Body)
}

func TestHealthClassificationThresholds(t *testing.T) {
	cases := []struct {
		rate float64
		want Health
	}{
		{1.0, HealthHealthy},
		{0.9, HealthHealthy},
		{0.89, HealthDegraded},
		{0.7, HealthDegraded},
		{0.69, HealthFailing},
		{0.5, HealthFailing},
		{0.49, HealthCritical},
		{0, HealthCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classify(tc.rate), "rate %v", tc.rate)
	}
}

func TestParseDocType(t *testing.T) {
	for _, valid := range []string{"mitigation", "risk", "framework"} {
		typ, ok := ParseDocType(valid)
		assert.True(t, ok)
		assert.Equal(t, DocType(valid), typ)
	}
	_, ok := ParseDocType("recipe")
	assert.False(t, ok)
}

func TestWarmerPreFetchesTargets(t *testing.T) {
	upstream := newContentUpstream(t)
	o := newTestOrchestrator(t, upstream)

	targets := []WarmTarget{
		{Type: TypeMitigation, Filename: "6_rate-limiting.md", Priority: 1},
		{Type: TypeRisk, Filename: "9_data-poisoning.md", Priority: 3},
	}
	w := NewWarmer(o, targets, time.Hour, 2, zerolog.Nop())

	w.warm(context.Background())
	assert.Equal(t, int64(2), upstream.calls.Load())
	assert.True(t, o.cache.Exists("risk:9_data-poisoning.md"))
	assert.True(t, o.cache.Exists("mitigation:6_rate-limiting.md"))

	// A second pass skips everything already cached.
	w.warm(context.Background())
	assert.Equal(t, int64(2), upstream.calls.Load())
}

func TestWarmerStopsOnCancel(t *testing.T) {
	upstream := newContentUpstream(t)
	o := newTestOrchestrator(t, upstream)

	var targets []WarmTarget
	for i := 0; i < 50; i++ {
		targets = append(targets, WarmTarget{Type: TypeRisk, Filename: fmt.Sprintf("r%d.md", i)})
	}
	w := NewWarmer(o, targets, time.Hour, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.warm(ctx) // must return promptly instead of working through the list
	assert.Less(t, upstream.calls.Load(), int64(50))
}
