package render

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheTTLMin  = 30 * time.Second
	cacheTTLMax  = 180 * time.Second
	metaCacheTTL = 24 * time.Hour
)

// Cache holds rendered HTML per URL in Redis, plus a longer-lived meta
// record carrying the validators for conditional revalidation.
type Cache struct {
	client *redis.Client
}

// CacheMeta is the stored validator record for one URL.
type CacheMeta struct {
	HTML         string `json:"html"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// NewCache wraps a redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func htmlKey(url string) string { return "render:" + url }
func metaKey(url string) string { return "render:meta:" + url }

// Get returns live cached HTML for url.
func (c *Cache) Get(ctx context.Context, url string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	html, err := c.client.Get(ctx, htmlKey(url)).Result()
	if err != nil {
		return "", false
	}
	return html, true
}

// Meta returns the validator record for url, if one survives.
func (c *Cache) Meta(ctx context.Context, url string) (CacheMeta, bool) {
	if c == nil || c.client == nil {
		return CacheMeta{}, false
	}
	raw, err := c.client.Get(ctx, metaKey(url)).Result()
	if err != nil {
		return CacheMeta{}, false
	}
	var m CacheMeta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return CacheMeta{}, false
	}
	return m, true
}

// Set stores html under url. A zero ttl picks a random one in [30s,180s] so
// a burst of workers does not expire in lockstep. The meta record keeps the
// HTML and validators for 24h, outliving the hot entry.
func (c *Cache) Set(ctx context.Context, url, html, etag, lastModified string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = cacheTTLMin + time.Duration(rand.Int63n(int64(cacheTTLMax-cacheTTLMin)))
	}
	c.client.Set(ctx, htmlKey(url), html, ttl)

	meta, err := json.Marshal(CacheMeta{HTML: html, ETag: etag, LastModified: lastModified})
	if err == nil {
		c.client.Set(ctx, metaKey(url), meta, metaCacheTTL)
	}
}

// Refresh re-arms the hot entry from a meta record after a 304.
func (c *Cache) Refresh(ctx context.Context, url, html string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if ttl <= 0 {
		ttl = cacheTTLMin + time.Duration(rand.Int63n(int64(cacheTTLMax-cacheTTLMin)))
	}
	c.client.Set(ctx, htmlKey(url), html, ttl)
}
