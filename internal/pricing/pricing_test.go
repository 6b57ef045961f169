package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscout/dealscout/internal/models"
)

func intp(v int) *int { return &v }

func TestFinalPriceCouponAndShipping(t *testing.T) {
	offer := models.Offer{
		Price:        intp(1000),
		PromoFlags:   models.PromoFlags{"instant_coupon": 100},
		ShippingDays: intp(3),
	}

	got := FinalPrice(offer, DefaultShippingCost)
	require.NotNil(t, got)
	assert.Equal(t, 1000-100+DefaultShippingCost, *got)
}

func TestFinalPriceSubscriptionWaivesShipping(t *testing.T) {
	offer := models.Offer{
		Price:        intp(1000),
		ShippingDays: intp(5),
		Subscription: true,
	}

	got := FinalPrice(offer, DefaultShippingCost)
	require.NotNil(t, got)
	assert.Equal(t, 1000, *got)
}

func TestFinalPriceFreeShippingMarker(t *testing.T) {
	offer := models.Offer{
		Price:            intp(1000),
		ShippingDays:     intp(2),
		ShippingIncluded: true,
	}

	got := FinalPrice(offer, DefaultShippingCost)
	require.NotNil(t, got)
	assert.Equal(t, 1000, *got)
}

func TestFinalPricePriceInCart(t *testing.T) {
	offer := models.Offer{Price: intp(1000), PriceInCart: true}
	assert.Nil(t, FinalPrice(offer, DefaultShippingCost))
}

func TestFinalPriceNoPrice(t *testing.T) {
	assert.Nil(t, FinalPrice(models.Offer{}, DefaultShippingCost))
}

func TestFinalPriceNeverNegative(t *testing.T) {
	offer := models.Offer{
		Price:      intp(50),
		PromoFlags: models.PromoFlags{"instant_coupon": 500},
	}

	got := FinalPrice(offer, DefaultShippingCost)
	require.NotNil(t, got)
	assert.Equal(t, 0, *got)
}
