// Package docs composes the cache, the resilient HTTP client, and the
// document parser behind per-stage error boundaries. The only outcome a
// caller ever sees for a failed fetch is "document unavailable"; the
// cause stays in logs and stage counters.
package docs

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aisecdocs/docpipe/internal/cache"
	"github.com/aisecdocs/docpipe/internal/frontmatter"
	"github.com/aisecdocs/docpipe/internal/httpc"
)

// DocType is a document category, each mapped to one upstream directory.
type DocType string

const (
	TypeMitigation DocType = "mitigation"
	TypeRisk       DocType = "risk"
	TypeFramework  DocType = "framework"
)

// ParseDocType validates a caller-supplied type string.
func ParseDocType(s string) (DocType, bool) {
	switch DocType(s) {
	case TypeMitigation, TypeRisk, TypeFramework:
		return DocType(s), true
	default:
		return "", false
	}
}

// subpath returns the upstream directory for a document type.
func (t DocType) subpath() string {
	return string(t) + "s"
}

// Document is one orchestrated fetch result. Never mutated after
// creation; cached as a value.
type Document struct {
	Filename    string               `json:"filename"`
	Type        DocType              `json:"type"`
	URL         string               `json:"url"`
	Metadata    frontmatter.Metadata `json:"metadata"`
	Body        string               `json:"body"`
	FullText    string               `json:"full_text"`
	RetrievedAt time.Time            `json:"retrieved_at"`
}

// Parser turns raw document text into metadata and body. Its contract
// is fail-soft: on unparseable input it returns empty metadata and the
// raw text, never an error.
type Parser func(raw string) (frontmatter.Metadata, string)

// Config tunes the orchestrator.
type Config struct {
	// ContentBaseURL is the root under which per-type directories of
	// raw documents live.
	ContentBaseURL string
	// TTL for cached documents; zero uses the cache default.
	TTL time.Duration
}

// Orchestrator serves documents from cache, fetching and parsing on
// miss.
type Orchestrator struct {
	cache  *cache.Cache[Document]
	client *httpc.Client
	parse  Parser
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	cacheStage *stage
	fetchStage *stage
	parseStage *stage
	storeStage *stage

	securityViolations atomic.Int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

// WithParser replaces the default front-matter parser.
func WithParser(p Parser) Option {
	return func(o *Orchestrator) { o.parse = p }
}

// New creates an orchestrator over an injected cache and client. The
// composition root owns both and closes them on shutdown.
func New(c *cache.Cache[Document], client *httpc.Client, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cache:      c,
		client:     client,
		parse:      frontmatter.Parse,
		cfg:        cfg,
		logger:     zerolog.Nop(),
		now:        time.Now,
		cacheStage: newStage("cache"),
		fetchStage: newStage("fetch"),
		parseStage: newStage("parse"),
		storeStage: newStage("store"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetDocument returns the named document, from cache when fresh. Every
// internal failure, network, upstream status, circuit open, cache
// write, collapses to (nil, false) for the caller.
func (o *Orchestrator) GetDocument(ctx context.Context, typ DocType, filename string) (*Document, bool) {
	if !validFilename(filename) {
		o.securityViolations.Add(1)
		o.logger.Warn().
			Str("type", string(typ)).
			Str("filename", filename).
			Msg("rejected unsafe document filename")
		return nil, false
	}

	key := string(typ) + ":" + filename

	// Cache stage: any problem here is a miss, never a failure of the
	// overall call.
	if doc, ok := o.cache.Get(key); ok {
		o.cacheStage.ok()
		return &doc, true
	}
	o.cacheStage.ok()

	docURL, err := url.JoinPath(o.cfg.ContentBaseURL, typ.subpath(), filename)
	if err != nil {
		o.securityViolations.Add(1)
		o.logger.Warn().Str("filename", filename).Err(err).Msg("could not build document url")
		return nil, false
	}

	// Fetch stage: retries already happened inside the client; a
	// failure here is terminal for this call.
	raw, err := o.client.FetchText(ctx, docURL)
	if err != nil {
		o.fetchStage.fail(err, o.now())
		o.logger.Warn().
			Str("url", docURL).
			Bool("circuit_open", isCircuitOpen(err)).
			Err(err).
			Msg("document fetch failed")
		return nil, false
	}
	o.fetchStage.ok()

	// Parse stage: the parser contract is fail-soft, so this stage
	// cannot fail the call.
	meta, body := o.parse(raw)
	o.parseStage.ok()

	doc := Document{
		Filename:    filename,
		Type:        typ,
		URL:         docURL,
		Metadata:    meta,
		Body:        body,
		FullText:    raw,
		RetrievedAt: o.now(),
	}

	// Store stage: a cache write failure is logged and swallowed; the
	// fetched document is still served.
	if err := o.storeDocument(key, doc); err != nil {
		o.storeStage.fail(err, o.now())
		o.logger.Warn().Str("key", key).Err(err).Msg("could not cache document")
	} else {
		o.storeStage.ok()
	}

	return &doc, true
}

func (o *Orchestrator) storeDocument(key string, doc Document) error {
	if o.cfg.TTL > 0 {
		return o.cache.SetTTL(key, doc, o.cfg.TTL)
	}
	return o.cache.Set(key, doc)
}

// CacheStats exposes the document cache counters.
func (o *Orchestrator) CacheStats() cache.Stats {
	return o.cache.Stats()
}

// SecurityViolations returns how many requests were rejected by
// filename validation.
func (o *Orchestrator) SecurityViolations() int64 {
	return o.securityViolations.Load()
}

// Health returns the per-stage status and the worst classification.
func (o *Orchestrator) Health() HealthStatus {
	stages := []StageStatus{
		o.cacheStage.status(),
		o.fetchStage.status(),
		o.parseStage.status(),
		o.storeStage.status(),
	}
	worst := HealthHealthy
	for _, s := range stages {
		if healthRank(s.Health) > healthRank(worst) {
			worst = s.Health
		}
	}
	return HealthStatus{
		Status:             worst,
		Stages:             stages,
		SecurityViolations: o.securityViolations.Load(),
	}
}

// validFilename rejects anything that could escape the per-type
// directory: separators, traversal sequences, control bytes.
func validFilename(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func isCircuitOpen(err error) bool {
	var coe *httpc.CircuitOpenError
	return errors.As(err, &coe)
}
