package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/observability"
)

const robotsCacheTTL = 24 * time.Hour

// ErrRobotsDisallowed marks a URL the site's robots.txt forbids. Permanent;
// the queue must not retry it.
var ErrRobotsDisallowed = errors.New("render: disallowed by robots.txt")

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// Robots caches per-domain robots.txt verdicts for 24h. An unreachable or
// unparsable robots.txt allows everything; an explicit deny is permanent.
type Robots struct {
	http  *http.Client
	agent string

	mu      sync.Mutex
	domains map[string]robotsEntry
}

// NewRobots builds a checker identifying itself as agent.
func NewRobots(agent string) *Robots {
	return &Robots{
		http:    &http.Client{Timeout: 10 * time.Second},
		agent:   agent,
		domains: map[string]robotsEntry{},
	}
}

// Check returns ErrRobotsDisallowed when pageURL may not be fetched.
func (r *Robots) Check(ctx context.Context, pageURL string) error {
	if r == nil {
		return nil
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("render: robots parse url: %w", err)
	}

	data := r.robotsFor(ctx, u)
	if data == nil {
		return nil
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if !data.TestAgent(path, r.agent) {
		observability.RobotsDenied.WithLabelValues(u.Host).Inc()
		return fmt.Errorf("%w: %s", ErrRobotsDisallowed, pageURL)
	}
	return nil
}

func (r *Robots) robotsFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	r.mu.Lock()
	entry, ok := r.domains[u.Host]
	r.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < robotsCacheTTL {
		return entry.data
	}

	data := r.fetch(ctx, u)
	r.mu.Lock()
	r.domains[u.Host] = robotsEntry{data: data, fetchedAt: time.Now()}
	r.mu.Unlock()
	return data
}

func (r *Robots) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.agent)

	resp, err := r.http.Do(req)
	if err != nil {
		zap.L().Debug("robots.txt unreachable", zap.String("domain", u.Host), zap.Error(err))
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		zap.L().Debug("robots.txt unparsable", zap.String("domain", u.Host), zap.Error(err))
		return nil
	}
	return data
}
