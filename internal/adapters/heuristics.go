package adapters

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dealscout/dealscout/internal/models"
)

var (
	couponRe   = regexp.MustCompile(`купон\D{0,20}?(\d+)`)
	shippingRe = regexp.MustCompile(`(\d+)[^\d]{0,5}дн`)
	priceRubRe = regexp.MustCompile(`\d[\d\s\x{00a0}]*₽`)
)

// extractPrice keeps only digits from a price string; nil when none remain.
func extractPrice(text string) *int {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return nil
	}
	return &n
}

// scanPromoText pulls coupon, shipping and marker heuristics from the lowered
// text of a card or page.
func scanPromoText(text string, offer *models.RawOffer) {
	text = strings.ToLower(text)

	if m := couponRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			if offer.PromoFlags == nil {
				offer.PromoFlags = models.PromoFlags{}
			}
			offer.PromoFlags["instant_coupon"] = v
		}
	}
	if m := shippingRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			offer.ShippingDays = &v
		}
	}
	offer.ShippingIncluded = strings.Contains(text, "бесп")
	offer.PriceInCart = strings.Contains(text, "корзин")
	offer.Subscription = strings.Contains(text, "подпис")
}

// resolveURL joins a possibly relative href against the site base.
func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(u).String()
}

// truncateTitle bounds a title to the column size.
func truncateTitle(title string, limit int) string {
	runes := []rune(title)
	if len(runes) <= limit {
		return title
	}
	return string(runes[:limit])
}
