package models

import (
	"encoding/json"
	"time"
)

// PromoFlags is a tagged label→value mapping extracted from listing text.
// Known labels carry ints (e.g. "instant_coupon") or bools (e.g. "free_shipping");
// unknown labels pass through untouched.
type PromoFlags map[string]any

// IntFlag returns the integer value of a promo label, or 0 when absent or
// not an integer. JSON round-trips land numbers as float64, so both are accepted.
func (p PromoFlags) IntFlag(label string) int {
	switch v := p[label].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// BoolFlag returns the boolean value of a promo label, false when absent.
func (p PromoFlags) BoolFlag(label string) bool {
	v, _ := p[label].(bool)
	return v
}

// RawOffer is one listing card or product page as the adapter saw it,
// before normalization.
type RawOffer struct {
	Source           string     `json:"source"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	Img              string     `json:"img,omitempty"`
	Seller           string     `json:"seller,omitempty"`
	Price            *int       `json:"price,omitempty"`
	PriceOld         *int       `json:"price_old,omitempty"`
	ShippingDays     *int       `json:"shipping_days,omitempty"`
	ShippingIncluded bool       `json:"shipping_included,omitempty"`
	PromoFlags       PromoFlags `json:"promo_flags,omitempty"`
	PriceInCart      bool       `json:"price_in_cart,omitempty"`
	Subscription     bool       `json:"subscription,omitempty"`
	GeoID            string     `json:"geoid,omitempty"`
}

// Offer is a normalized observation ready for dedupe and storage.
type Offer struct {
	ID         int64  `json:"id,omitempty"`
	ProductID  int64  `json:"product_id,omitempty"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Img        string `json:"img,omitempty"`
	ImgHash    string `json:"img_hash,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Category   string `json:"category,omitempty"`
	Seller     string `json:"seller,omitempty"`
	Finger     string `json:"finger"`

	Price            *int       `json:"price,omitempty"`
	PriceOld         *int       `json:"price_old,omitempty"`
	PriceFinal       *int       `json:"price_final,omitempty"`
	ShippingDays     *int       `json:"shipping_days,omitempty"`
	ShippingIncluded bool       `json:"shipping_included,omitempty"`
	PromoFlags       PromoFlags `json:"promo_flags,omitempty"`
	PriceInCart      bool       `json:"price_in_cart,omitempty"`
	Subscription     bool       `json:"subscription,omitempty"`
	GeoID            string     `json:"geoid,omitempty"`
	ObservedAt       time.Time  `json:"scraped_at,omitempty"`

	// Derived by the score pass.
	DiscountPct *float64 `json:"discount_pct,omitempty"`
	AbsSaving   *int     `json:"abs_saving,omitempty"`
	Score       float64  `json:"score,omitempty"`
	FakeMSRP    bool     `json:"fake_msrp,omitempty"`
}

// Deal is one admitted pipeline result handed to the notifier.
type Deal struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Price       int      `json:"price"`
	DiscountPct *float64 `json:"discount_pct,omitempty"`
	Score       float64  `json:"score"`
	Source      string   `json:"source"`
	Img         string   `json:"img,omitempty"`
	FakeMSRP    bool     `json:"fake_msrp"`
}

// MarshalPromoFlags serializes promo flags for a JSONB column, returning nil
// for an empty map so the column stays NULL.
func MarshalPromoFlags(p PromoFlags) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return json.Marshal(p)
}
