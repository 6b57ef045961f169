package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "https://a/x")
	assert.False(t, ok)

	c.Set(ctx, "https://a/x", "<html>1</html>", `"e1"`, "Mon, 01 Jan 2026 00:00:00 GMT", time.Minute)

	html, ok := c.Get(ctx, "https://a/x")
	require.True(t, ok)
	assert.Equal(t, "<html>1</html>", html)

	meta, ok := c.Meta(ctx, "https://a/x")
	require.True(t, ok)
	assert.Equal(t, `"e1"`, meta.ETag)
	assert.Equal(t, "<html>1</html>", meta.HTML)
}

func TestCacheHotEntryExpiresMetaSurvives(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.Set(ctx, "https://a/x", "<html>1</html>", `"e1"`, "", time.Minute)
	mr.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, "https://a/x")
	assert.False(t, ok)

	meta, ok := c.Meta(ctx, "https://a/x")
	require.True(t, ok)
	assert.Equal(t, `"e1"`, meta.ETag)
}

func TestCacheRandomTTLRange(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.Set(ctx, "https://a/x", "h", "", "", 0)
	ttl := mr.TTL("render:https://a/x")
	assert.GreaterOrEqual(t, ttl, cacheTTLMin)
	assert.LessOrEqual(t, ttl, cacheTTLMax)
}

func TestCacheRefresh(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	c.Refresh(ctx, "https://a/x", "<html>cached</html>", time.Minute)
	html, ok := c.Get(ctx, "https://a/x")
	require.True(t, ok)
	assert.Equal(t, "<html>cached</html>", html)
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	_, ok := c.Get(context.Background(), "u")
	assert.False(t, ok)
	c.Set(context.Background(), "u", "h", "", "", 0)
}

func TestUAPoolValidation(t *testing.T) {
	p := NewUAPool([]string{DefaultUserAgent, "definitely not a browser", ""})
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, DefaultUserAgent, p.Pick())
}

func TestUAPoolFallback(t *testing.T) {
	p := NewUAPool(nil)
	assert.Equal(t, DefaultUserAgent, p.Pick())

	var nilPool *UAPool
	assert.Equal(t, DefaultUserAgent, nilPool.Pick())
}

func TestRobotsDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer srv.Close()

	r := NewRobots("dealscout")
	ctx := context.Background()

	assert.NoError(t, r.Check(ctx, srv.URL+"/catalog/phones"))

	err := r.Check(ctx, srv.URL+"/private/page")
	assert.ErrorIs(t, err, ErrRobotsDisallowed)
}

func TestRobotsUnreachableAllows(t *testing.T) {
	r := NewRobots("dealscout")
	// nothing listens here
	assert.NoError(t, r.Check(context.Background(), "http://127.0.0.1:1/anything"))
}

func TestRobotsCachesVerdict(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	}))
	defer srv.Close()

	r := NewRobots("dealscout")
	ctx := context.Background()
	require.NoError(t, r.Check(ctx, srv.URL+"/a"))
	require.NoError(t, r.Check(ctx, srv.URL+"/b"))
	assert.Equal(t, 1, hits)
}

func TestPoolDomainSemReuse(t *testing.T) {
	p := NewPool(2, 2, nil, nil, nil, NewUAPool(nil))
	u, _ := url.Parse("https://www.ozon.ru/category/phones/")

	s1 := p.domainSem(u.Host)
	s2 := p.domainSem(u.Host)
	assert.Same(t, s1, s2)
	assert.NotSame(t, s1, p.domainSem("market.yandex.ru"))
}

func TestValidators(t *testing.T) {
	etag, lm := validators(nil)
	assert.Empty(t, etag)
	assert.Empty(t, lm)
}

func TestSnapshotterNilSafe(t *testing.T) {
	var s *Snapshotter
	s.Save(context.Background(), SnapshotErrors, "https://a/x", "<html/>", nil)

	snaps, err := NewSnapshotter("", "", "", "", false, 14)
	require.NoError(t, err)
	assert.Nil(t, snaps)
}

func TestRequestDefaultsApplied(t *testing.T) {
	p := NewPool(0, 0, nil, nil, nil, NewUAPool(nil))
	assert.Equal(t, 4, p.size)
	assert.Equal(t, int64(2), p.perDomain)
	assert.True(t, strings.HasPrefix(DefaultUserAgent, "Mozilla/5.0"))
}
