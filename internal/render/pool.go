// Package render owns the headless-browser fetch path: a bounded pool of
// browser contexts over one long-lived Chrome, per-domain politeness
// semaphores, a TTL+conditional HTML cache, robots.txt honoring, and debug
// snapshots to object storage.
package render

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dealscout/dealscout/internal/observability"
	"github.com/dealscout/dealscout/internal/queue"
)

// Cookie is one browser cookie to set before navigation.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Request describes one page fetch.
type Request struct {
	URL          string
	Cookies      []Cookie
	WaitSelector string
	ExtraHeaders map[string]string
	RegionHint   string
	Timeout      time.Duration
	Sleep        time.Duration
	SleepJitter  time.Duration
	CacheTTL     time.Duration
	ETag         string
	LastModified string
}

// Result is a fetched page. Screenshot is empty on cache hits and 304
// revalidations.
type Result struct {
	HTML       string
	Screenshot []byte
	FromCache  bool
}

const (
	defaultTimeout = 60 * time.Second
	maxErrPenalty  = 5 // seconds of advisory extra delay per domain
)

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool is the render service. Start must be called before Fetch.
type Pool struct {
	size      int
	perDomain int64

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        chan *tab

	mu        sync.Mutex
	domains   map[string]*semaphore.Weighted
	errStreak map[string]int

	cache  *Cache
	robots *Robots
	snaps  *Snapshotter
	uas    *UAPool
}

// NewPool wires the render service. cache, robots and snaps may be nil to
// disable the corresponding concern (tests).
func NewPool(size, perDomain int, cache *Cache, robots *Robots, snaps *Snapshotter, uas *UAPool) *Pool {
	if size <= 0 {
		size = 4
	}
	if perDomain <= 0 {
		perDomain = 2
	}
	return &Pool{
		size:      size,
		perDomain: int64(perDomain),
		tabs:      make(chan *tab, size),
		domains:   map[string]*semaphore.Weighted{},
		errStreak: map[string]int{},
		cache:     cache,
		robots:    robots,
		snaps:     snaps,
		uas:       uas,
	}
}

// Start launches the browser and pre-creates the context pool.
func (p *Pool) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(p.uas.Pick()),
		chromedp.WindowSize(1366, 860),
	)
	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(ctx, opts...)

	for i := 0; i < p.size; i++ {
		tctx, tcancel := chromedp.NewContext(p.allocCtx)
		// touch the context so the browser process and target exist
		if err := chromedp.Run(tctx, network.Enable()); err != nil {
			tcancel()
			p.Stop()
			return fmt.Errorf("render: start context %d: %w", i, err)
		}
		p.tabs <- &tab{ctx: tctx, cancel: tcancel}
	}
	zap.L().Info("render pool started",
		zap.Int("contexts", p.size), zap.Int64("per_domain", p.perDomain))
	return nil
}

// Stop tears down all contexts and the browser.
func (p *Pool) Stop() {
	for {
		select {
		case t := <-p.tabs:
			t.cancel()
		default:
			if p.allocCancel != nil {
				p.allocCancel()
			}
			return
		}
	}
}

// Fetch renders one page per the caching, politeness and snapshot rules.
func (p *Pool) Fetch(ctx context.Context, req Request) (Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return Result{}, queue.Permanent(fmt.Errorf("render: bad url %q: %w", req.URL, err))
	}
	domain := u.Host
	if req.Timeout <= 0 {
		req.Timeout = defaultTimeout
	}

	if err := p.robots.Check(ctx, req.URL); err != nil {
		return Result{}, queue.Permanent(err)
	}

	if html, ok := p.cache.Get(ctx, req.URL); ok {
		observability.RenderCacheResults.WithLabelValues("hit").Inc()
		return Result{HTML: html, FromCache: true}, nil
	}

	meta, hasMeta := p.cache.Meta(ctx, req.URL)
	if hasMeta {
		if req.ETag == "" {
			req.ETag = meta.ETag
		}
		if req.LastModified == "" {
			req.LastModified = meta.LastModified
		}
	}

	sem := p.domainSem(domain)
	if err := sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer sem.Release(1)

	var t *tab
	select {
	case t = <-p.tabs:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer p.release(t)

	start := time.Now()
	res, err := p.fetchInTab(ctx, t, req, domain, meta, hasMeta)
	observability.RenderLatency.WithLabelValues(domain).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RenderErrors.WithLabelValues(domain).Inc()
		p.bumpErrStreak(domain)
		return Result{}, err
	}
	p.resetErrStreak(domain)
	return res, nil
}

func (p *Pool) fetchInTab(ctx context.Context, t *tab, req Request, domain string, meta CacheMeta, hasMeta bool) (Result, error) {
	tctx, cancel := context.WithTimeout(t.ctx, req.Timeout)
	defer cancel()

	if err := chromedp.Run(tctx, p.prepareActions(req)...); err != nil {
		return Result{}, fmt.Errorf("render: prepare %s: %w", req.URL, err)
	}

	resp, err := chromedp.RunResponse(tctx, chromedp.Navigate(req.URL))
	if err != nil {
		p.snapshot(ctx, tctx, SnapshotErrors, req.URL)
		return Result{}, fmt.Errorf("render: navigate %s: %w", req.URL, err)
	}
	status := 0
	if resp != nil {
		status = int(resp.Status)
	}
	if status >= 400 && status != 304 {
		p.snapshot(ctx, tctx, SnapshotErrors, req.URL)
		return Result{}, &queue.HTTPError{Status: status, URL: req.URL}
	}

	if req.WaitSelector != "" {
		wctx, wcancel := context.WithTimeout(tctx, req.Timeout/2)
		err := chromedp.Run(wctx, chromedp.WaitVisible(req.WaitSelector, chromedp.ByQuery))
		wcancel()
		if err != nil {
			p.snapshot(ctx, tctx, SnapshotErrors, req.URL)
			return Result{}, fmt.Errorf("render: wait %q on %s: %w", req.WaitSelector, req.URL, err)
		}
	}

	p.politenessSleep(tctx, req, domain)

	if status == 304 && hasMeta && meta.HTML != "" {
		p.cache.Refresh(ctx, req.URL, meta.HTML, req.CacheTTL)
		observability.RenderCacheResults.WithLabelValues("revalidated").Inc()
		return Result{HTML: meta.HTML, FromCache: true}, nil
	}

	var html string
	var shot []byte
	if err := chromedp.Run(tctx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 80),
	); err != nil {
		p.snapshot(ctx, tctx, SnapshotErrors, req.URL)
		return Result{}, fmt.Errorf("render: capture %s: %w", req.URL, err)
	}

	etag, lastModified := validators(resp)
	p.cache.Set(ctx, req.URL, html, etag, lastModified, req.CacheTTL)
	observability.RenderCacheResults.WithLabelValues("miss").Inc()
	return Result{HTML: html, Screenshot: shot}, nil
}

// SnapshotSchemaPage uploads a parse-trouble capture; the pipeline calls this
// on empty listings and parser failures.
func (p *Pool) SnapshotSchemaPage(ctx context.Context, pageURL, html string, screenshot []byte) {
	p.snaps.Save(ctx, SnapshotSchema, pageURL, html, screenshot)
}

func (p *Pool) prepareActions(req Request) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}

	headers := map[string]any{}
	for k, v := range req.ExtraHeaders {
		headers[k] = v
	}
	if req.ETag != "" {
		headers["If-None-Match"] = req.ETag
	}
	if req.LastModified != "" {
		headers["If-Modified-Since"] = req.LastModified
	}
	if len(headers) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers(headers)))
	}

	cookies := req.Cookies
	if req.RegionHint != "" {
		if u, err := url.Parse(req.URL); err == nil {
			cookies = append(cookies, Cookie{
				Name: "region", Value: req.RegionHint, Domain: "." + u.Host, Path: "/",
			})
		}
	}
	for _, c := range cookies {
		c := c
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				Do(ctx)
		}))
	}
	return actions
}

// politenessSleep pauses between navigation and capture: the configured
// delay, uniform jitter, and an advisory penalty that grows with the
// domain's consecutive failures.
func (p *Pool) politenessSleep(ctx context.Context, req Request, domain string) {
	delay := req.Sleep
	if req.SleepJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(req.SleepJitter)))
	}
	p.mu.Lock()
	penalty := p.errStreak[domain]
	p.mu.Unlock()
	if penalty > maxErrPenalty {
		penalty = maxErrPenalty
	}
	delay += time.Duration(penalty) * time.Second
	if delay <= 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (p *Pool) snapshot(ctx context.Context, tctx context.Context, prefix, pageURL string) {
	if p.snaps == nil {
		return
	}
	var html string
	var shot []byte
	// best effort: the page may be gone
	capCtx, cancel := context.WithTimeout(tctx, 5*time.Second)
	_ = chromedp.Run(capCtx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&shot, 80),
	)
	cancel()
	p.snaps.Save(ctx, prefix, pageURL, html, shot)
}

func (p *Pool) release(t *tab) {
	// clear per-fetch state before the next borrower
	rctx, cancel := context.WithTimeout(t.ctx, 5*time.Second)
	if err := chromedp.Run(rctx,
		network.ClearBrowserCookies(),
		network.SetExtraHTTPHeaders(network.Headers{}),
	); err != nil {
		zap.L().Debug("context reset failed", zap.Error(err))
	}
	cancel()
	p.tabs <- t
}

func (p *Pool) domainSem(domain string) *semaphore.Weighted {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.domains[domain]
	if !ok {
		sem = semaphore.NewWeighted(p.perDomain)
		p.domains[domain] = sem
	}
	return sem
}

func (p *Pool) bumpErrStreak(domain string) {
	p.mu.Lock()
	p.errStreak[domain]++
	p.mu.Unlock()
}

func (p *Pool) resetErrStreak(domain string) {
	p.mu.Lock()
	p.errStreak[domain] = 0
	p.mu.Unlock()
}

func validators(resp *network.Response) (etag, lastModified string) {
	if resp == nil {
		return "", ""
	}
	for k, v := range resp.Headers {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "ETag", "Etag", "etag":
			etag = s
		case "Last-Modified", "last-modified":
			lastModified = s
		}
	}
	return etag, lastModified
}
