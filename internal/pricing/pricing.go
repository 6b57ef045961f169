// Package pricing computes the effective price a buyer pays: base price
// minus instant coupons, plus shipping when it is actually charged.
package pricing

import "github.com/dealscout/dealscout/internal/models"

// DefaultShippingCost is the flat delivery estimate in rubles when the
// marketplace charges for shipping. SHIPPING_COST overrides it.
const DefaultShippingCost = 199

// FinalPrice returns the effective price, or nil when it cannot be known
// up front: no base price, or the marketplace only reveals it in the cart.
func FinalPrice(offer models.Offer, shippingCost int) *int {
	if offer.Price == nil || offer.PriceInCart {
		return nil
	}

	final := *offer.Price
	final -= offer.PromoFlags.IntFlag("instant_coupon")

	// Shipping is charged only when a delivery estimate exists and neither a
	// subscription nor an explicit free-shipping marker waives it.
	if offer.ShippingDays != nil && !offer.Subscription && !offer.ShippingIncluded {
		final += shippingCost
	}
	if final < 0 {
		final = 0
	}
	return &final
}
