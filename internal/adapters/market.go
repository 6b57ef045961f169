package adapters

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/selectors"
)

const marketBase = "https://market.yandex.ru"

var marketIDRe = regexp.MustCompile(`/product--[^/]+/(\d+)`)

// Market scrapes market.yandex.ru listings and product pages.
type Market struct {
	sel     selectors.SiteSelectors
	regions *RegionMap
}

// NewMarket builds the adapter with registry selectors for the "market" site.
func NewMarket(reg selectors.Registry, regions *RegionMap) *Market {
	return &Market{sel: reg.Site(models.SourceMarket), regions: regions}
}

func (m *Market) Site() string { return models.SourceMarket }

func (m *Market) WaitSelector() string { return `article[data-autotest-id="product-snippet"]` }

// RegionCookies sets yandex_gid, the geoid cookie every Yandex property reads.
func (m *Market) RegionCookies(geoid string) []Cookie {
	return []Cookie{{Name: "yandex_gid", Value: geoid, Domain: ".yandex.ru", Path: "/"}}
}

func (m *Market) CityFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	el := doc.Find(`[data-zone-name="region"]`).First()
	if el.Length() == 0 {
		el = doc.Find(`[data-auto="region-name"]`).First()
	}
	return strings.TrimSpace(el.Text())
}

func (m *Market) EnsureRegion(html, geoid string) bool {
	expected, ok := m.regions.City(geoid)
	if !ok {
		return true
	}
	return m.CityFromHTML(html) == expected
}

func (m *Market) ParseListing(html, geoid string) ([]models.RawOffer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("market: parse listing: %w", err)
	}

	cardSel := m.fieldOr(m.sel.Listing, "card", selectors.Selector{CSS: `article[data-autotest-id="product-snippet"]`})
	linkSel := m.fieldOr(m.sel.Listing, "link", selectors.Selector{CSS: `a[href*="/product--"]`})
	titleSel := m.fieldOr(m.sel.Listing, "title", selectors.Selector{CSS: `[data-baobab-name="title"]`})
	priceSel := m.fieldOr(m.sel.Listing, "price", selectors.Selector{CSS: `[data-autotest-value]`})
	imageSel := m.fieldOr(m.sel.Listing, "image", selectors.Selector{CSS: "img"})

	var items []models.RawOffer
	seen := map[string]bool{}
	for _, card := range selectors.SelectAll(doc.Selection, cardSel) {
		if card.Sel == nil {
			continue
		}

		link, ok := selectors.SelectOne(card.Sel, linkSel)
		if !ok || link.Attr("href") == "" {
			zap.L().Warn("market: card skipped, no product link")
			continue
		}
		pageURL := resolveURL(marketBase, link.Attr("href"))
		if seen[pageURL] {
			continue
		}
		seen[pageURL] = true

		title := ""
		if t, ok := selectors.SelectOne(card.Sel, titleSel); ok {
			title = t.Text()
		}
		if title == "" {
			title = link.Text()
		}

		// Market carries the numeric price in the data-autotest-value
		// attribute; the visible text is a fallback.
		var price *int
		if p, ok := selectors.SelectOne(card.Sel, priceSel); ok {
			if v := p.Attr("data-autotest-value"); v != "" {
				price = extractPrice(v)
			}
			if price == nil {
				price = extractPrice(p.Text())
			}
		}
		if price == nil {
			price = extractPrice(priceRubRe.FindString(card.Sel.Text()))
		}
		if price == nil {
			zap.L().Warn("market: card skipped, no price", zap.String("url", pageURL))
			continue
		}

		img := ""
		if im, ok := selectors.SelectOne(card.Sel, imageSel); ok {
			if src := im.Attr("src"); src != "" {
				img = resolveURL(marketBase, src)
			}
		}

		offer := models.RawOffer{
			Source: models.SourceMarket,
			Title:  truncateTitle(fallbackTitle(title, "Товар Маркет"), 200),
			URL:    pageURL,
			Img:    img,
			Price:  price,
			GeoID:  geoid,
		}
		scanPromoText(card.Sel.Text(), &offer)
		items = append(items, offer)
	}
	return items, nil
}

func (m *Market) ParseProduct(html, geoid string) (models.RawOffer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.RawOffer{}, fmt.Errorf("market: parse product: %w", err)
	}

	pageURL := marketBase
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		pageURL = resolveURL(marketBase, href)
	}

	title := "Товар Маркет"
	if t, ok := selectors.SelectOne(doc.Selection, m.fieldOr(m.sel.Product, "title", selectors.Selector{CSS: "h1"})); ok {
		title = fallbackTitle(t.Text(), title)
	}

	var price *int
	if p, ok := selectors.SelectOne(doc.Selection, m.fieldOr(m.sel.Product, "price", selectors.Selector{CSS: `[data-autotest-value]`})); ok {
		if v := p.Attr("data-autotest-value"); v != "" {
			price = extractPrice(v)
		}
		if price == nil {
			price = extractPrice(p.Text())
		}
	}

	img := ""
	if im, ok := selectors.SelectOne(doc.Selection, m.fieldOr(m.sel.Product, "image", selectors.Selector{CSS: "img"})); ok {
		if src := im.Attr("src"); src != "" {
			img = resolveURL(marketBase, src)
		}
	}

	offer := models.RawOffer{
		Source: models.SourceMarket,
		Title:  truncateTitle(title, 200),
		URL:    pageURL,
		Img:    img,
		Price:  price,
		GeoID:  geoid,
	}
	scanPromoText(doc.Text(), &offer)
	return offer, nil
}

// ExternalIDFromURL pulls the numeric id out of /product--slug/123 paths.
func (m *Market) ExternalIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if match := marketIDRe.FindStringSubmatch(u.Path); match != nil {
		return match[1]
	}
	return strings.Trim(u.Path, "/")
}

func (m *Market) fieldOr(set selectors.FieldSet, name string, def selectors.Selector) selectors.Selector {
	if s := set.Field(name); !s.Empty() {
		return s
	}
	return def
}
