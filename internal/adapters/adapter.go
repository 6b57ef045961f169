// Package adapters knows the two marketplaces: how to ask for a region, how
// to confirm the page actually rendered for it, and how to pull offers out of
// listing and product pages. Everything selector-shaped comes from the
// selectors registry with built-in defaults as the last fallback.
package adapters

import (
	"fmt"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/selectors"
)

// Cookie is a browser cookie an adapter wants set before navigation.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Adapter is one marketplace's scraping surface.
type Adapter interface {
	// Site returns the source identifier ("ozon", "market").
	Site() string
	// RegionCookies returns the cookies that select a geographic region.
	RegionCookies(geoid string) []Cookie
	// CityFromHTML extracts the displayed city from the page header, "" when absent.
	CityFromHTML(html string) string
	// EnsureRegion reports whether the rendered page matches the requested
	// geoid. Unknown geoids pass.
	EnsureRegion(html, geoid string) bool
	// ParseListing extracts raw offers from a category listing page.
	// Cards missing a link or a price are skipped, not fatal.
	ParseListing(html, geoid string) ([]models.RawOffer, error)
	// ParseProduct extracts a single raw offer from a product page.
	ParseProduct(html, geoid string) (models.RawOffer, error)
	// ExternalIDFromURL derives the marketplace product id from a URL.
	ExternalIDFromURL(url string) string
	// WaitSelector is the CSS selector the renderer waits for before capture.
	WaitSelector() string
}

// ErrUnknownSite is returned by ForSite for unsupported sources.
var ErrUnknownSite = fmt.Errorf("adapters: unknown site")

// ForSite returns the adapter for a source identifier.
func ForSite(site string, reg selectors.Registry, regions *RegionMap) (Adapter, error) {
	switch site {
	case models.SourceOzon:
		return NewOzon(reg, regions), nil
	case models.SourceMarket:
		return NewMarket(reg, regions), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
}
