package adapters

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscout/dealscout/internal/selectors"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func newOzon(t *testing.T) *Ozon {
	t.Helper()
	return NewOzon(selectors.Registry{}, NewRegionMap(nil))
}

func newMarket(t *testing.T) *Market {
	t.Helper()
	return NewMarket(selectors.Registry{}, NewRegionMap(nil))
}

func TestOzonParseListing(t *testing.T) {
	items, err := newOzon(t).ParseListing(fixture(t, "ozon_listing.html"), "213")
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.True(t, strings.HasPrefix(first.Title, "Товар A"))
	require.NotNil(t, first.Price)
	assert.Equal(t, 1234, *first.Price)
	assert.True(t, strings.HasSuffix(first.URL, "/product/123"))
	assert.True(t, strings.HasSuffix(first.Img, "/img1.jpg"))
	assert.Equal(t, "213", first.GeoID)

	second := items[1]
	require.NotNil(t, second.Price)
	assert.Equal(t, 5678, *second.Price)
	assert.Equal(t, 100, second.PromoFlags.IntFlag("instant_coupon"))
}

func TestOzonParseProduct(t *testing.T) {
	offer, err := newOzon(t).ParseProduct(fixture(t, "ozon_product.html"), "213")
	require.NoError(t, err)

	assert.Equal(t, "Товар A", offer.Title)
	require.NotNil(t, offer.Price)
	assert.Equal(t, 1234, *offer.Price)
	assert.True(t, strings.HasSuffix(offer.URL, "/product/123"))
	require.NotNil(t, offer.ShippingDays)
	assert.Equal(t, 3, *offer.ShippingDays)
	assert.True(t, offer.Subscription)
	assert.False(t, offer.PriceInCart)
	assert.Equal(t, 100, offer.PromoFlags.IntFlag("instant_coupon"))
}

func TestMarketParseListing(t *testing.T) {
	items, err := newMarket(t).ParseListing(fixture(t, "market_listing.html"), "213")
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "Товар A", first.Title)
	require.NotNil(t, first.Price)
	assert.Equal(t, 1234, *first.Price)
	assert.True(t, strings.HasSuffix(first.URL, "/product--slug1/111"))
	assert.True(t, strings.HasSuffix(first.Img, "/img1.png"))
	assert.Equal(t, "213", first.GeoID)
}

func TestMarketParseProduct(t *testing.T) {
	offer, err := newMarket(t).ParseProduct(fixture(t, "market_product.html"), "213")
	require.NoError(t, err)

	assert.Equal(t, "Товар A", offer.Title)
	require.NotNil(t, offer.Price)
	assert.Equal(t, 1234, *offer.Price)
	assert.True(t, strings.HasSuffix(offer.URL, "/product--slug1/111"))
	require.NotNil(t, offer.ShippingDays)
	assert.Equal(t, 5, *offer.ShippingDays)
	assert.True(t, offer.Subscription)
	assert.Equal(t, 200, offer.PromoFlags.IntFlag("instant_coupon"))
	assert.Equal(t, "213", offer.GeoID)
}

func TestOzonRegion(t *testing.T) {
	o := newOzon(t)

	cookies := o.RegionCookies("213")
	require.Len(t, cookies, 1)
	assert.Equal(t, "region", cookies[0].Name)
	assert.Equal(t, ".ozon.ru", cookies[0].Domain)

	html := fixture(t, "ozon_listing.html")
	assert.Equal(t, "Москва", o.CityFromHTML(html))
	assert.True(t, o.EnsureRegion(html, "213"))
	assert.False(t, o.EnsureRegion(html, "2"))
	// unknown geoid passes
	assert.True(t, o.EnsureRegion(html, "99999"))
}

func TestOzonCityFromTextFallback(t *testing.T) {
	html := `<html><body><p>Товары для города Казань</p></body></html>`
	assert.Equal(t, "Казань", newOzon(t).CityFromHTML(html))
}

func TestMarketRegion(t *testing.T) {
	m := newMarket(t)

	cookies := m.RegionCookies("2")
	require.Len(t, cookies, 1)
	assert.Equal(t, "yandex_gid", cookies[0].Name)
	assert.Equal(t, "2", cookies[0].Value)

	html := fixture(t, "market_listing.html")
	assert.Equal(t, "Москва", m.CityFromHTML(html))
	assert.True(t, m.EnsureRegion(html, "213"))
	assert.False(t, m.EnsureRegion(html, "2"))
}

func TestExternalIDFromURL(t *testing.T) {
	o := newOzon(t)
	assert.Equal(t, "123456789", o.ExternalIDFromURL("https://www.ozon.ru/product/noutbuk-lenovo-123456789/"))
	assert.Equal(t, "123", o.ExternalIDFromURL("https://www.ozon.ru/product/123"))

	m := newMarket(t)
	assert.Equal(t, "111", m.ExternalIDFromURL("https://market.yandex.ru/product--slug1/111"))
	assert.Equal(t, "222", m.ExternalIDFromURL("https://market.yandex.ru/product--noutbuk/222?sku=5"))
}

func TestForSite(t *testing.T) {
	reg := selectors.Registry{}
	regions := NewRegionMap(nil)

	a, err := ForSite("ozon", reg, regions)
	require.NoError(t, err)
	assert.Equal(t, "ozon", a.Site())

	a, err = ForSite("market", reg, regions)
	require.NoError(t, err)
	assert.Equal(t, "market", a.Site())

	_, err = ForSite("wildberries", reg, regions)
	assert.ErrorIs(t, err, ErrUnknownSite)
}

func TestRegionMapOverrides(t *testing.T) {
	r := NewRegionMap(map[string]string{"38": "Иркутск", "213": "Moscow"})

	city, ok := r.City("38")
	require.True(t, ok)
	assert.Equal(t, "Иркутск", city)

	city, _ = r.City("213")
	assert.Equal(t, "Moscow", city)

	_, ok = r.City("0")
	assert.False(t, ok)
}

func TestExtractPrice(t *testing.T) {
	p := extractPrice("1 234 ₽")
	require.NotNil(t, p)
	assert.Equal(t, 1234, *p)

	assert.Nil(t, extractPrice("цена по запросу"))
	assert.Nil(t, extractPrice(""))
}
