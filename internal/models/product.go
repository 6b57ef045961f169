package models

import "time"

// Source identifies the marketplace an offer was observed on.
const (
	SourceOzon   = "ozon"
	SourceMarket = "market"
)

// KnownSource reports whether s names a supported marketplace.
func KnownSource(s string) bool {
	return s == SourceOzon || s == SourceMarket
}

// Product is the canonical catalog entity. A product is unique per
// (source, external_id) and per URL; offers and price history rows hang off it.
type Product struct {
	ID         int64  `json:"id"`
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Img        string `json:"img,omitempty"`
	ImgHash    string `json:"img_hash,omitempty"` // 32-hex image fingerprint; once set, never cleared
	Brand      string `json:"brand,omitempty"`
	Category   string `json:"category,omitempty"`
	Finger     string `json:"finger"` // 32-hex content fingerprint
	GeoID      string `json:"geoid_created,omitempty"`

	// Rolling aggregates maintained by the feature pass.
	AvgPrice30d *int     `json:"avg_price_30d,omitempty"`
	MinPrice30d *int     `json:"min_price_30d,omitempty"`
	AvgPrice90d *int     `json:"avg_price_90d,omitempty"`
	MinPrice90d *int     `json:"min_price_90d,omitempty"`
	Trend30d    *float64 `json:"trend_30d,omitempty"` // percent over 30 days
}

// PricePoint is one append-only price_history row.
type PricePoint struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	TS         time.Time `json:"ts"`
	PriceFinal *int      `json:"price_final,omitempty"`
	Seller     string    `json:"seller,omitempty"`
}

// Event is a typed event-log row (price drops and friends).
type Event struct {
	ID        int64          `json:"id"`
	ProductID int64          `json:"product_id"`
	TS        time.Time      `json:"ts"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event types written by the pipeline.
const (
	EventPriceDrop = "price_drop"
)
