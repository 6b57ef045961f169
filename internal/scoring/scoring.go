// Package scoring ranks offers: discount against a historical baseline, a
// weighted composite score, and the fake-MSRP strikethrough detector.
package scoring

import (
	"math"

	"github.com/dealscout/dealscout/internal/models"
)

// Default weights of the composite score. Users may override any subset.
const (
	DefaultWeightDiscount = 0.4
	DefaultWeightAbs      = 0.3
	DefaultWeightSeller   = 0.2
	DefaultWeightShipping = 0.1
	DefaultBase           = 10.0
)

// fakeMSRPFactor: a strikethrough price this far above the historical
// baseline is treated as inflated.
const fakeMSRPFactor = 1.5

// DiscountPct returns the percentage saved against base, rounded to two
// decimals, or nil when either side is missing or base is not positive.
func DiscountPct(base, priceFinal *int) *float64 {
	if base == nil || priceFinal == nil || *base <= 0 {
		return nil
	}
	pct := round2(float64(*base-*priceFinal) / float64(*base) * 100)
	return &pct
}

// AbsSaving returns base − price_final in rubles, nil when either is missing.
func AbsSaving(base, priceFinal *int) *int {
	if base == nil || priceFinal == nil {
		return nil
	}
	v := *base - *priceFinal
	return &v
}

// Score combines discount percent, absolute saving, seller rating (0..5) and
// shipping days into one number. Missing inputs contribute zero. overrides
// replaces individual weights, nil keeps the defaults.
func Score(discountPct *float64, absSaving *int, sellerRating *float64, shippingDays *int, overrides *models.ScoreWeights) float64 {
	wd, wa, ws, wh, base := weights(overrides)

	dp := 0.0
	if discountPct != nil {
		dp = *discountPct
	}
	abs := 0.0
	if absSaving != nil {
		abs = float64(*absSaving) / 100
	}
	sr := 0.0
	if sellerRating != nil {
		sr = *sellerRating * 20 // 0..5 → 0..100
	}
	sd := 0.0
	if shippingDays != nil {
		sd = -float64(*shippingDays)
	}

	return round2(wd*dp + wa*abs + ws*sr + wh*sd + base)
}

// IsFakeMSRP reports whether the strikethrough price is inflated: more than
// 1.5× the lower of the 30-day average and the 90-day minimum. A missing
// strikethrough or a missing baseline never flags.
func IsFakeMSRP(priceOld, avg30, min90 *int) bool {
	if priceOld == nil || avg30 == nil || min90 == nil {
		return false
	}
	baseline := *avg30
	if *min90 < baseline {
		baseline = *min90
	}
	return float64(*priceOld) > float64(baseline)*fakeMSRPFactor
}

func weights(o *models.ScoreWeights) (wd, wa, ws, wh, base float64) {
	wd, wa, ws, wh, base = DefaultWeightDiscount, DefaultWeightAbs, DefaultWeightSeller, DefaultWeightShipping, DefaultBase
	if o == nil {
		return
	}
	if o.Discount != nil {
		wd = *o.Discount
	}
	if o.Abs != nil {
		wa = *o.Abs
	}
	if o.Seller != nil {
		ws = *o.Seller
	}
	if o.Shipping != nil {
		wh = *o.Shipping
	}
	if o.Base != nil {
		base = *o.Base
	}
	return
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
