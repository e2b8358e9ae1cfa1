// Package site implements the fetcher contract against real websites
// using colly. A session crawls same-host links breadth-first from the
// target URL up to a page limit, yielding one page record per fetched
// document. Pages that look like empty JavaScript shells are promoted
// to the headless renderer; raw bodies can be persisted to a blob
// store. Page content never leaves this package.
package site

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/patchlight/crawld/internal/crawl"
	"github.com/patchlight/crawld/internal/fetcher/headless"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxPages       int
	MaxDepth       int
	SnapshotPrefix string
	// PromotionThreshold is the body size in bytes below which an HTML
	// page may be treated as a JS shell and promoted to the renderer.
	PromotionThreshold int
}

// Fetcher opens crawl sessions against live sites.
type Fetcher struct {
	cfg      Config
	renderer headless.Renderer
	detector Detector
	blobs    crawl.BlobStore
	idGen    crawl.IDGenerator
	clock    crawl.Clock
	logger   *zap.Logger
}

// New constructs a site Fetcher. Renderer and blobs may be nil; the
// noop renderer disables promotion and a nil blob store disables
// snapshots.
func New(cfg Config, renderer headless.Renderer, blobs crawl.BlobStore, idGen crawl.IDGenerator, clock crawl.Clock, logger *zap.Logger) *Fetcher {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 25
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "pages"
	}
	if renderer == nil {
		renderer = headless.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	detector := DefaultDetector()
	if cfg.PromotionThreshold > 0 {
		detector.MinBodyBytes = cfg.PromotionThreshold
	}
	return &Fetcher{
		cfg:      cfg,
		renderer: renderer,
		detector: detector,
		blobs:    blobs,
		idGen:    idGen,
		clock:    clock,
		logger:   logger,
	}
}

// Open starts crawling the target host in the background and returns a
// session the worker pulls pages from.
func (f *Fetcher) Open(ctx context.Context, runID, targetURL string) (crawl.Session, error) {
	root, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("parse target url: %w", err)
	}
	if root.Hostname() == "" {
		return nil, fmt.Errorf("target url %q has no host", targetURL)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		pages:  make(chan crawl.PageRecord, 4),
		ctx:    sessionCtx,
		cancel: cancel,
	}
	go s.crawl(f, runID, root)
	return s, nil
}

type session struct {
	pages  chan crawl.PageRecord
	ctx    context.Context
	cancel context.CancelFunc

	frontierLen atomic.Int64

	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
}

type frontierItem struct {
	url   string
	depth int
}

// crawl walks the same-host frontier breadth-first, one synchronous
// visit at a time, and closes the page channel when the frontier is
// exhausted or the page limit is reached.
func (s *session) crawl(f *Fetcher, runID string, root *url.URL) {
	defer close(s.pages)

	host := root.Hostname()
	c := colly.NewCollector(colly.AllowedDomains(host))
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.SetRequestTimeout(f.cfg.Timeout)

	// Per-visit state: the collector is synchronous, so each Visit call
	// fully populates these before the next one starts.
	var (
		cur      visitResult
		curDepth int
	)
	frontier := []frontierItem{{url: root.String(), depth: 0}}
	visited := map[string]bool{canonical(root): true}
	s.frontierLen.Store(1)

	c.OnHTML("title", func(e *colly.HTMLElement) {
		if cur.title == "" {
			cur.title = strings.TrimSpace(e.Text)
		}
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		u, err := url.Parse(link)
		if err != nil || u.Hostname() != host {
			return
		}
		key := canonical(u)
		if visited[key] || curDepth+1 > f.cfg.MaxDepth {
			return
		}
		visited[key] = true
		frontier = append(frontier, frontierItem{url: link, depth: curDepth + 1})
		s.frontierLen.Add(1)
	})

	c.OnScraped(func(r *colly.Response) {
		cur.response = r
		cur.ok = true
	})

	c.OnError(func(_ *colly.Response, err error) {
		cur.err = err
	})

	fetched := 0
	var lastErr error
	for len(frontier) > 0 && fetched < f.cfg.MaxPages && s.ctx.Err() == nil {
		item := frontier[0]
		frontier = frontier[1:]
		s.frontierLen.Add(-1)

		cur = visitResult{}
		curDepth = item.depth
		if err := c.Visit(item.url); err != nil {
			lastErr = err
			continue
		}
		if cur.err != nil {
			lastErr = cur.err
			continue
		}
		if !cur.ok {
			continue
		}

		page := f.buildPage(s.ctx, runID, cur.response, cur.title)
		fetched++
		select {
		case s.pages <- page:
		case <-s.ctx.Done():
			return
		}
	}

	// Link-level failures mid-crawl are tolerated; a crawl that produced
	// nothing at all is a failed run.
	if fetched == 0 && s.ctx.Err() == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no pages fetched from %s", root.String())
		}
		s.setErr(fmt.Errorf("crawl %s: %w", root.String(), lastErr))
	}
}

type visitResult struct {
	response *colly.Response
	title    string
	err      error
	ok       bool
}

// buildPage converts one response into a page record, promoting to the
// headless renderer and snapshotting the body when configured.
func (f *Fetcher) buildPage(ctx context.Context, runID string, r *colly.Response, title string) crawl.PageRecord {
	body := r.Body
	contentType := r.Headers.Get("Content-Type")
	pageURL := r.Request.URL

	if f.detector.NeedsRendering(contentType, body) {
		rendered, err := f.renderer.Render(ctx, pageURL.String())
		switch {
		case errors.Is(err, headless.ErrRenderingDisabled):
			// Keep the plain body.
		case err != nil:
			f.logger.Warn("headless render failed",
				zap.String("run_id", runID),
				zap.String("url", pageURL.String()),
				zap.Error(err))
		default:
			body = []byte(rendered)
			if t := extractTitle(rendered); t != "" {
				title = t
			}
		}
	}

	id, err := f.idGen.NewID()
	if err != nil {
		f.logger.Warn("page id allocation failed", zap.Error(err))
		id = pageURL.String()
	}

	f.snapshot(ctx, runID, id, contentType, body)

	return crawl.PageRecord{
		ID:        id,
		RunID:     runID,
		Path:      pagePath(pageURL),
		Title:     title,
		Type:      pageType(contentType),
		Size:      int64(len(body)),
		FetchedAt: f.clock.Now(),
	}
}

func (f *Fetcher) snapshot(ctx context.Context, runID, pageID, contentType string, body []byte) {
	if f.blobs == nil {
		return
	}
	key := path.Join(f.cfg.SnapshotPrefix, runID, pageID+".html")
	if _, err := f.blobs.PutObject(ctx, key, contentType, body); err != nil {
		f.logger.Warn("page snapshot failed",
			zap.String("run_id", runID),
			zap.String("key", key),
			zap.Error(err))
	}
}

// Next pulls the next fetched page. It returns more=false when the
// crawl exhausted the frontier, or the session's fatal error.
func (s *session) Next(ctx context.Context) (crawl.PageRecord, bool, error) {
	select {
	case <-ctx.Done():
		return crawl.PageRecord{}, false, ctx.Err()
	case page, ok := <-s.pages:
		if !ok {
			if err := s.getErr(); err != nil {
				return crawl.PageRecord{}, false, err
			}
			return crawl.PageRecord{}, false, nil
		}
		return page, true, nil
	}
}

// Pending reports discovered-but-unfetched pages. Best effort; the
// frontier keeps growing while links are found.
func (s *session) Pending() int {
	pending := int(s.frontierLen.Load())
	if pending < 0 {
		return 0
	}
	return pending
}

// Close stops the crawl and releases the background goroutine.
func (s *session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *session) getErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// canonical normalizes a URL for the visited set: scheme-insensitive,
// fragment-free, trailing-slash-insensitive on the path.
func canonical(u *url.URL) string {
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	key := u.Hostname() + p
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}

func pagePath(u *url.URL) string {
	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

func pageType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
