// Package discovery lists which documents currently exist upstream. It
// layers a persistent local snapshot and a hard-coded static fallback
// under the remote listing API, so Discover never fails.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aisecdocs/docpipe/internal/httpc"
)

// Source identifies where a discovery result came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
	SourceStatic Source = "static"
)

// FileInfo describes one listed document.
type FileInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	Size        int64  `json:"size,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// listedEntry is the listing API's wire shape; directories and other
// non-document entries are filtered out.
type listedEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// Result is one discovery outcome: the three category listings plus
// provenance.
type Result struct {
	Mitigations        []FileInfo `json:"mitigations"`
	Risks              []FileInfo `json:"risks"`
	Frameworks         []FileInfo `json:"frameworks"`
	Source             Source     `json:"source"`
	CacheExpires       time.Time  `json:"cache_expires"`
	RateLimitRemaining int        `json:"rate_limit_remaining,omitempty"`
}

// Config tunes the discovery service.
type Config struct {
	// ListingBaseURL is the root of the listing API; one fixed sub-path
	// per category is appended.
	ListingBaseURL string
	// CacheDir is the preferred snapshot directory.
	CacheDir string
	// CacheDuration is how long a remote result stays fresh.
	CacheDuration time.Duration
}

// Service resolves the current document listings.
type Service struct {
	client        *httpc.Client
	store         *snapshotStore
	listingBase   string
	cacheDuration time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.now = fn }
}

// New creates a discovery service.
func New(client *httpc.Client, cfg Config, opts ...Option) *Service {
	s := &Service{
		client:        client,
		listingBase:   cfg.ListingBaseURL,
		cacheDuration: cfg.CacheDuration,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.store = newSnapshotStore(cfg.CacheDir, s.logger)
	return s
}

// Discover returns the current listings. Preference order: fresh local
// snapshot, then the remote listing API, then the static fallback. It
// never returns an error; degraded sources are visible via Source.
func (s *Service) Discover(ctx context.Context) Result {
	if snap, ok := s.store.load(); ok && snap.CacheExpires.After(s.now()) {
		snap.Source = SourceCache
		return snap
	}

	res, err := s.fetchRemote(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discovery unavailable, serving static fallback")
		return staticFallback()
	}

	if err := s.store.save(res); err != nil {
		// Best effort: a broken disk must not take discovery down.
		s.logger.Warn().Err(err).Msg("could not persist discovery snapshot")
	}
	return res
}

// fetchRemote fetches the three category listings concurrently. A
// failure in any one fails the whole attempt; there are no partial
// results. Every fetch runs to completion so none is orphaned.
func (s *Service) fetchRemote(ctx context.Context) (Result, error) {
	var (
		mitigations, risks, frameworks []FileInfo
		rates                          [3]int
		g                              errgroup.Group
	)
	g.Go(func() error {
		var err error
		mitigations, rates[0], err = s.listCategory(ctx, "mitigations")
		return err
	})
	g.Go(func() error {
		var err error
		risks, rates[1], err = s.listCategory(ctx, "risks")
		return err
	})
	g.Go(func() error {
		var err error
		frameworks, rates[2], err = s.listCategory(ctx, "frameworks")
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	remaining := -1
	for _, r := range rates {
		if r >= 0 && (remaining < 0 || r < remaining) {
			remaining = r
		}
	}
	res := Result{
		Mitigations:  mitigations,
		Risks:        risks,
		Frameworks:   frameworks,
		Source:       SourceRemote,
		CacheExpires: s.now().Add(s.cacheDuration),
	}
	if remaining >= 0 {
		res.RateLimitRemaining = remaining
	}
	return res, nil
}

func (s *Service) listCategory(ctx context.Context, category string) ([]FileInfo, int, error) {
	listURL, err := url.JoinPath(s.listingBase, category)
	if err != nil {
		return nil, -1, fmt.Errorf("discovery: build %s listing url: %w", category, err)
	}
	resp, err := s.client.GetJSON(ctx, listURL)
	if err != nil {
		return nil, -1, fmt.Errorf("discovery: list %s: %w", category, err)
	}

	var entries []listedEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, -1, fmt.Errorf("discovery: decode %s listing: %w", category, err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Type != "" && e.Type != "file" {
			continue
		}
		if !strings.HasSuffix(e.Name, ".md") {
			continue
		}
		files = append(files, FileInfo{Name: e.Name, Path: e.Path, Size: e.Size, DownloadURL: e.DownloadURL})
	}

	remaining := -1
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}
	return files, remaining, nil
}
