package render

import (
	"math/rand"

	"github.com/avct/uasurfer"
	"go.uber.org/zap"
)

// DefaultUserAgent is the fallback when no pool is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/122.0.0.0 Safari/537.36"

// UAPool hands out browser user agents. Configured entries that don't parse
// as a known browser are dropped at construction.
type UAPool struct {
	agents []string
}

// NewUAPool validates candidates and keeps the recognizable ones. An empty
// or fully-rejected list falls back to the built-in Chrome UA.
func NewUAPool(candidates []string) *UAPool {
	var agents []string
	for _, ua := range candidates {
		if ua == "" {
			continue
		}
		parsed := uasurfer.Parse(ua)
		if parsed.Browser.Name == uasurfer.BrowserUnknown {
			zap.L().Warn("user agent rejected", zap.String("ua", ua))
			continue
		}
		agents = append(agents, ua)
	}
	if len(agents) == 0 {
		agents = []string{DefaultUserAgent}
	}
	return &UAPool{agents: agents}
}

// Pick returns a random agent from the pool.
func (p *UAPool) Pick() string {
	if p == nil || len(p.agents) == 0 {
		return DefaultUserAgent
	}
	return p.agents[rand.Intn(len(p.agents))]
}

// Size reports how many agents survived validation.
func (p *UAPool) Size() int { return len(p.agents) }
