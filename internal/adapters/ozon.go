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

const ozonBase = "https://www.ozon.ru"

var (
	ozonCityRe = regexp.MustCompile(`Товары для города\s+([\p{L}\-\s]+)`)
	ozonIDRe   = regexp.MustCompile(`(\d+)(?:/|$)`)
)

// Ozon scrapes ozon.ru listings and product pages.
type Ozon struct {
	sel     selectors.SiteSelectors
	regions *RegionMap
}

// NewOzon builds the adapter with registry selectors for the "ozon" site.
func NewOzon(reg selectors.Registry, regions *RegionMap) *Ozon {
	return &Ozon{sel: reg.Site(models.SourceOzon), regions: regions}
}

func (o *Ozon) Site() string { return models.SourceOzon }

// WaitSelector is the widget the search results hydrate into.
func (o *Ozon) WaitSelector() string { return `[data-widget="searchResultsV2"]` }

func (o *Ozon) RegionCookies(geoid string) []Cookie {
	return []Cookie{{Name: "region", Value: geoid, Domain: ".ozon.ru", Path: "/"}}
}

func (o *Ozon) CityFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		el := doc.Find("[data-widget='headerLocation']").First()
		if el.Length() == 0 {
			el = doc.Find("[data-widget='regionSelect']").First()
		}
		if el.Length() > 0 {
			return strings.TrimSpace(el.Text())
		}
	}
	if m := ozonCityRe.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func (o *Ozon) EnsureRegion(html, geoid string) bool {
	expected, ok := o.regions.City(geoid)
	if !ok {
		return true
	}
	return o.CityFromHTML(html) == expected
}

func (o *Ozon) ParseListing(html, geoid string) ([]models.RawOffer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("ozon: parse listing: %w", err)
	}

	containerSel := o.fieldOr(o.sel.Listing, "container", selectors.Selector{CSS: `[data-widget="searchResultsV2"]`})
	cardSel := o.fieldOr(o.sel.Listing, "card", selectors.Selector{CSS: `a[href*="/product/"]`})
	priceSel := o.sel.Listing.Field("price")
	imageSel := o.fieldOr(o.sel.Listing, "image", selectors.Selector{CSS: "img"})

	scope := doc.Selection
	if container, ok := selectors.SelectOne(doc.Selection, containerSel); ok && container.Sel != nil {
		scope = container.Sel
	}

	var items []models.RawOffer
	seen := map[string]bool{}
	for _, card := range selectors.SelectAll(scope, cardSel) {
		if card.Sel == nil {
			continue
		}
		href := card.Attr("href")
		if href == "" || !strings.Contains(href, "/product/") {
			zap.L().Warn("ozon: card skipped, no product link")
			continue
		}
		pageURL := resolveURL(ozonBase, href)
		if seen[pageURL] {
			continue
		}
		seen[pageURL] = true

		title := card.Text()

		var price *int
		if !priceSel.Empty() {
			if m, ok := selectors.SelectOne(card.Sel, priceSel); ok {
				price = extractPrice(m.Text())
			}
		}
		if price == nil {
			price = extractPrice(priceRubRe.FindString(card.Sel.Text()))
		}
		if price == nil {
			zap.L().Warn("ozon: card skipped, no price", zap.String("url", pageURL))
			continue
		}

		img := ""
		if m, ok := selectors.SelectOne(card.Sel, imageSel); ok {
			if src := m.Attr("src"); src != "" {
				img = resolveURL(ozonBase, src)
			}
		}

		offer := models.RawOffer{
			Source: models.SourceOzon,
			Title:  truncateTitle(fallbackTitle(title, "Товар Ozon"), 200),
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

func (o *Ozon) ParseProduct(html, geoid string) (models.RawOffer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.RawOffer{}, fmt.Errorf("ozon: parse product: %w", err)
	}

	pageURL := ozonBase
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		pageURL = resolveURL(ozonBase, href)
	}

	title := "Товар Ozon"
	if m, ok := selectors.SelectOne(doc.Selection, o.fieldOr(o.sel.Product, "title", selectors.Selector{CSS: "h1"})); ok {
		title = fallbackTitle(m.Text(), title)
	}

	var price *int
	if m, ok := selectors.SelectOne(doc.Selection, o.fieldOr(o.sel.Product, "price", selectors.Selector{CSS: `[data-widget="webPrice"]`})); ok {
		price = extractPrice(m.Text())
	}

	img := ""
	if m, ok := selectors.SelectOne(doc.Selection, o.fieldOr(o.sel.Product, "image", selectors.Selector{CSS: "img"})); ok {
		if src := m.Attr("src"); src != "" {
			img = resolveURL(ozonBase, src)
		}
	}

	offer := models.RawOffer{
		Source: models.SourceOzon,
		Title:  truncateTitle(title, 200),
		URL:    pageURL,
		Img:    img,
		Price:  price,
		GeoID:  geoid,
	}
	scanPromoText(doc.Text(), &offer)
	return offer, nil
}

// ExternalIDFromURL takes the trailing numeric id of a product path,
// e.g. /product/slug-123456789/ → 123456789.
func (o *Ozon) ExternalIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if m := ozonIDRe.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return strings.Trim(u.Path, "/")
}

func (o *Ozon) fieldOr(set selectors.FieldSet, name string, def selectors.Selector) selectors.Selector {
	if s := set.Field(name); !s.Empty() {
		return s
	}
	return def
}

func fallbackTitle(title, def string) string {
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return def
	}
	return title
}
