package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscout/dealscout/internal/adapters"
	"github.com/dealscout/dealscout/internal/analytics"
	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/queue"
	"github.com/dealscout/dealscout/internal/render"
)

const listingHTML = `<html><body>
<div data-widget="searchResultsV2">
  <a href="/product/tovar-a-123/"><span>Товар Первый</span><span>100 ₽</span><img src="/img/a.jpg"/></a>
  <a href="/product/tovar-b-456/"><span>Товар Второй</span><span>300 ₽</span></a>
</div>
</body></html>`

const emptyListingHTML = `<html><body><div data-widget="searchResultsV2"></div></body></html>`

const productHTML = `<html><head><link rel="canonical" href="https://www.ozon.ru/product/tovar-a-123/"/></head>
<body><h1>Товар Первый</h1><div data-widget="webPrice">100 ₽</div></body></html>`

type fakeFetcher struct {
	html      string
	err       error
	snapshots int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ render.Request) (render.Result, error) {
	if f.err != nil {
		return render.Result{}, f.err
	}
	return render.Result{HTML: f.html}, nil
}

func (f *fakeFetcher) SnapshotSchemaPage(_ context.Context, _, _ string, _ []byte) {
	f.snapshots++
}

type fakeStore struct {
	nextID   int64
	products map[string]models.Product // keyed by source:external_id
	history  map[int64][]models.PricePoint
	offers   []models.Offer
	events   []models.Event
	aggSaves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[string]models.Product{},
		history:  map[int64][]models.PricePoint{},
	}
}

func (s *fakeStore) key(source, externalID string) string {
	return fmt.Sprintf("%s:%s", source, externalID)
}

func (s *fakeStore) UpsertProduct(_ context.Context, offer models.Offer) (models.Product, error) {
	k := s.key(offer.Source, offer.ExternalID)
	if p, ok := s.products[k]; ok {
		return p, nil
	}
	s.nextID++
	p := models.Product{ID: s.nextID, Source: offer.Source, ExternalID: offer.ExternalID, URL: offer.URL}
	s.products[k] = p
	return p, nil
}

func (s *fakeStore) InsertOffer(_ context.Context, productID int64, o models.Offer) (int64, error) {
	o.ProductID = productID
	s.offers = append(s.offers, o)
	return int64(len(s.offers)), nil
}

func (s *fakeStore) AppendHistory(_ context.Context, productID int64, priceFinal *int, seller string, ts time.Time) error {
	s.history[productID] = append(s.history[productID], models.PricePoint{
		ProductID: productID, TS: ts, PriceFinal: priceFinal, Seller: seller,
	})
	return nil
}

func (s *fakeStore) HistorySince(_ context.Context, productID int64, since time.Time) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for _, p := range s.history[productID] {
		if !p.TS.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveAggregates(_ context.Context, _ int64, _, _, _, _ *int, _ *float64) error {
	s.aggSaves++
	return nil
}

func (s *fakeStore) UpdateOfferScores(_ context.Context, offerID int64, discountPct *float64, absSaving *int, score float64, fakeMSRP bool) error {
	o := &s.offers[offerID-1]
	o.DiscountPct = discountPct
	o.AbsSaving = absSaving
	o.Score = score
	o.FakeMSRP = fakeMSRP
	return nil
}

func (s *fakeStore) AppendEvent(_ context.Context, e models.Event) error {
	s.events = append(s.events, e)
	return nil
}

// seed registers a product with prior history so feature windows have data.
func (s *fakeStore) seed(source, externalID, url string, prices []int, at time.Time) int64 {
	s.nextID++
	id := s.nextID
	s.products[s.key(source, externalID)] = models.Product{ID: id, Source: source, ExternalID: externalID, URL: url}
	for i, v := range prices {
		v := v
		s.history[id] = append(s.history[id], models.PricePoint{
			ProductID: id, TS: at.Add(time.Duration(i) * time.Hour), PriceFinal: &v,
		})
	}
	return id
}

func testProcessor(store *fakeStore, fetch *fakeFetcher, sink analytics.Sink) *Processor {
	return New(store, fetch, sink, nil, adapters.NewRegionMap(nil), Options{ShippingCost: 199})
}

func TestProcessListingAdmitsByScore(t *testing.T) {
	store := newFakeStore()
	fetch := &fakeFetcher{html: listingHTML}
	p := testProcessor(store, fetch, nil)

	deals, err := p.ProcessListing(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/phones/",
		GeoID: "999", MinDiscount: 100, MinScore: 0,
	})
	require.NoError(t, err)
	require.Len(t, deals, 2)

	// no strikethrough and no prior history: both score at the base, order preserved
	assert.Equal(t, 100, deals[0].Price)
	assert.Equal(t, 300, deals[1].Price)
	assert.Equal(t, deals[0].Score, deals[1].Score)

	assert.Len(t, store.offers, 2)
	assert.Len(t, store.events, 2)
	assert.Equal(t, 2, store.aggSaves)
	assert.Equal(t, 0, fetch.snapshots)
}

func TestProcessListingDiscountAgainstHistory(t *testing.T) {
	store := newFakeStore()
	// same product observed at 300 twice over the past week
	store.seed(models.SourceOzon, "123", "https://www.ozon.ru/product/tovar-a-123/",
		[]int{300, 300}, time.Now().UTC().AddDate(0, 0, -5))

	fetch := &fakeFetcher{html: listingHTML}
	p := testProcessor(store, fetch, nil)

	deals, err := p.ProcessListing(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/phones/",
		GeoID: "999", MinDiscount: 25, MinScore: 1000,
	})
	require.NoError(t, err)
	require.Len(t, deals, 1)

	// avg30 = (300+300+100)/3 = 233, discount = (233-100)/233 ≈ 57%
	assert.Equal(t, 100, deals[0].Price)
	require.NotNil(t, deals[0].DiscountPct)
	assert.InDelta(t, 57.08, *deals[0].DiscountPct, 0.01)
}

func TestProcessListingRegionMismatch(t *testing.T) {
	store := newFakeStore()
	fetch := &fakeFetcher{html: listingHTML} // no city header at all
	p := testProcessor(store, fetch, nil)

	_, err := p.ProcessListing(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/phones/", GeoID: "213",
	})
	assert.ErrorIs(t, err, ErrRegionMismatch)
	assert.Empty(t, store.offers)
	assert.Equal(t, 1, fetch.snapshots)
}

func TestProcessListingEmptySnapshotsNotError(t *testing.T) {
	store := newFakeStore()
	fetch := &fakeFetcher{html: emptyListingHTML}
	p := testProcessor(store, fetch, nil)

	deals, err := p.ProcessListing(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/phones/", GeoID: "999",
	})
	require.NoError(t, err)
	assert.Empty(t, deals)
	assert.Equal(t, 1, fetch.snapshots)
}

func TestProcessListingRejectedStillRecorded(t *testing.T) {
	store := newFakeStore()
	fetch := &fakeFetcher{html: listingHTML}
	sink := analytics.NewMockSink()
	p := testProcessor(store, fetch, sink)

	deals, err := p.ProcessListing(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/phones/",
		GeoID: "999", MinDiscount: 100, MinScore: 1000,
	})
	require.NoError(t, err)
	assert.Empty(t, deals)
	assert.Empty(t, store.events)

	recorded := sink.Recorded()
	require.Len(t, recorded, 2)
	assert.False(t, recorded[0].Admitted)
	assert.Equal(t, models.SourceOzon, recorded[0].Site)
}

func TestProcessProduct(t *testing.T) {
	store := newFakeStore()
	fetch := &fakeFetcher{html: productHTML}
	p := testProcessor(store, fetch, nil)

	deals, err := p.ProcessProduct(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/product/tovar-a-123/",
		GeoID: "999", MinDiscount: 100, MinScore: 0,
	})
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, "https://www.ozon.ru/product/tovar-a-123/", deals[0].URL)
	assert.Equal(t, 100, deals[0].Price)
}

func TestProcessListingFetchErrorPropagates(t *testing.T) {
	store := newFakeStore()
	fetch := &fakeFetcher{err: fmt.Errorf("boom")}
	p := testProcessor(store, fetch, nil)

	_, err := p.ProcessListing(context.Background(), Job{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/phones/", GeoID: "999",
	})
	assert.Error(t, err)
	assert.Empty(t, store.offers)
}

func TestProcessListingUnknownSite(t *testing.T) {
	p := testProcessor(newFakeStore(), &fakeFetcher{}, nil)
	_, err := p.ProcessListing(context.Background(), Job{Site: "wildberries", URL: "https://x/"})
	assert.ErrorIs(t, err, adapters.ErrUnknownSite)
	// dead-letters on the first attempt instead of burning five retries
	assert.True(t, queue.IsPermanent(err))

	_, err = p.ProcessProduct(context.Background(), Job{Site: "wildberries", URL: "https://x/"})
	assert.True(t, queue.IsPermanent(err))
}
