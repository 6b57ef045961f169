// Package pipeline runs one scrape task end to end: fetch, region check,
// parse, normalize, dedupe, persist, feature computation, score and filter.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/adapters"
	"github.com/dealscout/dealscout/internal/analytics"
	"github.com/dealscout/dealscout/internal/dedupe"
	"github.com/dealscout/dealscout/internal/history"
	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/normalize"
	"github.com/dealscout/dealscout/internal/observability"
	"github.com/dealscout/dealscout/internal/pricing"
	"github.com/dealscout/dealscout/internal/queue"
	"github.com/dealscout/dealscout/internal/render"
	"github.com/dealscout/dealscout/internal/scoring"
	"github.com/dealscout/dealscout/internal/selectors"
)

// ErrRegionMismatch is returned when the rendered page belongs to a different
// region than requested. The queue treats it as retryable: region cookies are
// flaky and a fresh browser context usually lands right.
var ErrRegionMismatch = fmt.Errorf("pipeline: rendered page region mismatch")

// Store is the persistence surface the pipeline needs.
type Store interface {
	UpsertProduct(ctx context.Context, offer models.Offer) (models.Product, error)
	InsertOffer(ctx context.Context, productID int64, o models.Offer) (int64, error)
	AppendHistory(ctx context.Context, productID int64, priceFinal *int, seller string, ts time.Time) error
	HistorySince(ctx context.Context, productID int64, since time.Time) ([]models.PricePoint, error)
	SaveAggregates(ctx context.Context, productID int64, avg30, min30, avg90, min90 *int, trend30 *float64) error
	UpdateOfferScores(ctx context.Context, offerID int64, discountPct *float64, absSaving *int, score float64, fakeMSRP bool) error
	AppendEvent(ctx context.Context, e models.Event) error
}

// Fetcher renders pages. *render.Pool implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req render.Request) (render.Result, error)
	SnapshotSchemaPage(ctx context.Context, pageURL, html string, screenshot []byte)
}

// Job is one unit of pipeline work, a task payload after the worker has
// overlaid any per-user profile.
type Job struct {
	Site        string
	URL         string
	GeoID       string
	Category    string
	MinDiscount int
	MinScore    int
	Weights     *models.ScoreWeights
}

// Options tunes per-fetch behavior.
type Options struct {
	ShippingCost int
	Timeout      time.Duration
	Sleep        time.Duration
	SleepJitter  time.Duration
}

// Processor executes jobs against a store and a render pool.
type Processor struct {
	store   Store
	fetch   Fetcher
	sink    analytics.Sink
	sel     selectors.Registry
	regions *adapters.RegionMap
	opts    Options
	now     func() time.Time
}

// New wires a processor. sink may be nil to skip analytics.
func New(store Store, fetch Fetcher, sink analytics.Sink, sel selectors.Registry, regions *adapters.RegionMap, opts Options) *Processor {
	if opts.ShippingCost <= 0 {
		opts.ShippingCost = pricing.DefaultShippingCost
	}
	return &Processor{
		store:   store,
		fetch:   fetch,
		sink:    sink,
		sel:     sel,
		regions: regions,
		opts:    opts,
		now:     time.Now,
	}
}

// ProcessListing scrapes one category listing page and returns the admitted
// deals sorted by score, best first.
func (p *Processor) ProcessListing(ctx context.Context, job Job) ([]models.Deal, error) {
	adapter, err := adapters.ForSite(job.Site, p.sel, p.regions)
	if err != nil {
		// no adapter will ever appear for this task; retrying is pointless
		return nil, queue.Permanent(err)
	}
	domain := hostOf(job.URL)

	res, err := p.fetch.Fetch(ctx, p.request(job, adapter, adapter.WaitSelector()))
	if err != nil {
		return nil, err
	}

	if !adapter.EnsureRegion(res.HTML, job.GeoID) {
		p.fetch.SnapshotSchemaPage(ctx, job.URL, res.HTML, res.Screenshot)
		zap.L().Warn("region mismatch",
			zap.String("site", job.Site), zap.String("geoid", job.GeoID),
			zap.String("city", adapter.CityFromHTML(res.HTML)))
		return nil, ErrRegionMismatch
	}

	raws, err := adapter.ParseListing(res.HTML, job.GeoID)
	if err != nil {
		p.fetch.SnapshotSchemaPage(ctx, job.URL, res.HTML, res.Screenshot)
		observability.ParseErrors.WithLabelValues(domain).Inc()
		return nil, fmt.Errorf("pipeline: parse %s: %w", job.URL, err)
	}
	if len(raws) == 0 {
		// the page rendered but yielded nothing; usually a markup change
		p.fetch.SnapshotSchemaPage(ctx, job.URL, res.HTML, res.Screenshot)
		observability.UpdateListingStats(domain, true)
		zap.L().Warn("empty listing", zap.String("url", job.URL))
		return nil, nil
	}
	observability.UpdateListingStats(domain, false)

	return p.processOffers(ctx, job, adapter, raws)
}

// ProcessProduct scrapes a single product page, used for favorites rechecks.
func (p *Processor) ProcessProduct(ctx context.Context, job Job) ([]models.Deal, error) {
	adapter, err := adapters.ForSite(job.Site, p.sel, p.regions)
	if err != nil {
		return nil, queue.Permanent(err)
	}
	domain := hostOf(job.URL)

	res, err := p.fetch.Fetch(ctx, p.request(job, adapter, ""))
	if err != nil {
		return nil, err
	}

	if !adapter.EnsureRegion(res.HTML, job.GeoID) {
		p.fetch.SnapshotSchemaPage(ctx, job.URL, res.HTML, res.Screenshot)
		return nil, ErrRegionMismatch
	}

	raw, err := adapter.ParseProduct(res.HTML, job.GeoID)
	if err != nil {
		p.fetch.SnapshotSchemaPage(ctx, job.URL, res.HTML, res.Screenshot)
		observability.ParseErrors.WithLabelValues(domain).Inc()
		return nil, fmt.Errorf("pipeline: parse %s: %w", job.URL, err)
	}

	return p.processOffers(ctx, job, adapter, []models.RawOffer{raw})
}

func (p *Processor) request(job Job, adapter adapters.Adapter, waitSelector string) render.Request {
	var cookies []render.Cookie
	for _, c := range adapter.RegionCookies(job.GeoID) {
		cookies = append(cookies, render.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return render.Request{
		URL:          job.URL,
		Cookies:      cookies,
		WaitSelector: waitSelector,
		Timeout:      p.opts.Timeout,
		Sleep:        p.opts.Sleep,
		SleepJitter:  p.opts.SleepJitter,
	}
}

func (p *Processor) processOffers(ctx context.Context, job Job, adapter adapters.Adapter, raws []models.RawOffer) ([]models.Deal, error) {
	offers := make([]models.Offer, 0, len(raws))
	for _, raw := range raws {
		offer := normalize.Normalize(raw, adapter)
		offer.Category = job.Category
		offer.PriceFinal = pricing.FinalPrice(offer, p.opts.ShippingCost)
		offers = append(offers, offer)
	}
	offers = dedupe.Offers(offers)

	var deals []models.Deal
	for _, offer := range offers {
		deal, admitted, err := p.persistAndScore(ctx, job, offer)
		if err != nil {
			zap.L().Error("offer persist failed",
				zap.String("url", offer.URL), zap.Error(err))
			continue
		}
		if admitted {
			deals = append(deals, deal)
		}
	}

	sort.SliceStable(deals, func(i, j int) bool { return deals[i].Score > deals[j].Score })
	return deals, nil
}

func (p *Processor) persistAndScore(ctx context.Context, job Job, offer models.Offer) (models.Deal, bool, error) {
	now := p.now().UTC()

	product, err := p.store.UpsertProduct(ctx, offer)
	if err != nil {
		return models.Deal{}, false, fmt.Errorf("upsert product: %w", err)
	}
	offer.ProductID = product.ID

	if err := p.store.AppendHistory(ctx, product.ID, offer.PriceFinal, offer.Seller, offer.ObservedAt); err != nil {
		return models.Deal{}, false, fmt.Errorf("append history: %w", err)
	}
	offerID, err := p.store.InsertOffer(ctx, product.ID, offer)
	if err != nil {
		return models.Deal{}, false, fmt.Errorf("insert offer: %w", err)
	}

	points, err := p.store.HistorySince(ctx, product.ID, now.AddDate(0, 0, -90))
	if err != nil {
		return models.Deal{}, false, fmt.Errorf("load history: %w", err)
	}
	feats := history.Compute(points, now)
	if err := p.store.SaveAggregates(ctx, product.ID,
		feats.Stats30.Avg, feats.Stats30.Min, feats.Stats90.Avg, feats.Stats90.Min, feats.Trend30); err != nil {
		return models.Deal{}, false, fmt.Errorf("save aggregates: %w", err)
	}

	// discount against the strikethrough when present, the 30-day average
	// otherwise; absolute saving is always against the 30-day average
	base := offer.PriceOld
	if base == nil {
		base = feats.Stats30.Avg
	}
	offer.DiscountPct = scoring.DiscountPct(base, offer.PriceFinal)
	offer.AbsSaving = scoring.AbsSaving(feats.Stats30.Avg, offer.PriceFinal)
	offer.FakeMSRP = scoring.IsFakeMSRP(offer.PriceOld, feats.Stats30.Avg, feats.Stats90.Min)
	offer.Score = scoring.Score(offer.DiscountPct, offer.AbsSaving, nil, offer.ShippingDays, job.Weights)

	if err := p.store.UpdateOfferScores(ctx, offerID, offer.DiscountPct, offer.AbsSaving, offer.Score, offer.FakeMSRP); err != nil {
		return models.Deal{}, false, fmt.Errorf("update scores: %w", err)
	}

	admitted := p.admit(job, offer)
	p.observe(ctx, job, offer, admitted)
	if !admitted {
		return models.Deal{}, false, nil
	}

	observability.DealsAdmitted.WithLabelValues(job.Site).Inc()
	if err := p.store.AppendEvent(ctx, models.Event{
		ProductID: product.ID,
		TS:        now,
		Type:      models.EventPriceDrop,
		Payload: map[string]any{
			"url":          offer.URL,
			"price_final":  *offer.PriceFinal,
			"discount_pct": offer.DiscountPct,
			"score":        offer.Score,
		},
	}); err != nil {
		zap.L().Warn("event append failed", zap.Int64("product_id", product.ID), zap.Error(err))
	}

	return models.Deal{
		Title:       offer.Title,
		URL:         offer.URL,
		Price:       *offer.PriceFinal,
		DiscountPct: offer.DiscountPct,
		Score:       offer.Score,
		Source:      offer.Source,
		Img:         offer.Img,
		FakeMSRP:    offer.FakeMSRP,
	}, true, nil
}

// admit passes an offer that clears either threshold. Offers without a final
// price can never be sent and are always rejected.
func (p *Processor) admit(job Job, offer models.Offer) bool {
	if offer.PriceFinal == nil {
		return false
	}
	if offer.DiscountPct != nil && *offer.DiscountPct >= float64(job.MinDiscount) {
		return true
	}
	return offer.Score >= float64(job.MinScore)
}

func (p *Processor) observe(ctx context.Context, job Job, offer models.Offer, admitted bool) {
	if p.sink == nil {
		return
	}
	obs := analytics.Observation{
		Timestamp:   offer.ObservedAt,
		Site:        offer.Source,
		ExternalID:  offer.ExternalID,
		ProductID:   offer.ProductID,
		GeoID:       offer.GeoID,
		Category:    job.Category,
		Price:       offer.Price,
		PriceOld:    offer.PriceOld,
		PriceFinal:  offer.PriceFinal,
		DiscountPct: offer.DiscountPct,
		Score:       offer.Score,
		FakeMSRP:    offer.FakeMSRP,
		Admitted:    admitted,
	}
	if err := p.sink.RecordObservation(ctx, obs); err != nil {
		zap.L().Debug("analytics record failed", zap.Error(err))
	}
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}
