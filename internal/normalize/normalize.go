// Package normalize turns raw scraped offers into canonical observations:
// collapsed titles, guessed brands, stable fingerprints for dedupe.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/dealscout/dealscout/internal/models"
)

var spaceRe = regexp.MustCompile(`\s+`)

// knownBrands is a deliberately small allow-list. Anything fancier
// (dictionaries, NER) belongs in a separate service.
var knownBrands = []string{
	"lenovo", "asus", "acer", "hp", "huawei", "apple",
	"samsung", "xiaomi", "realme", "dell", "msi",
}

// IDer derives the marketplace external id from a product URL.
type IDer interface {
	ExternalIDFromURL(url string) string
}

// NormTitle collapses runs of whitespace and trims the result.
func NormTitle(t string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(t, " "))
}

// NormSeller trims and capitalizes a seller name, "" stays "".
func NormSeller(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return capitalize(s)
}

// GuessBrand scans the title for a known brand and returns it capitalized,
// "" when nothing matches.
func GuessBrand(title string) string {
	tl := strings.ToLower(title)
	for _, b := range knownBrands {
		if strings.Contains(tl, b) {
			return capitalize(b)
		}
	}
	return ""
}

// Fingerprint hashes the lowered title joined with brand and model. Two
// listings of the same product on different pages collapse to one finger.
func Fingerprint(title, brand, model string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{strings.ToLower(title), brand, model} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	sum := md5.Sum([]byte(strings.Join(parts, " ")))
	return hex.EncodeToString(sum[:])
}

// ImgHash hashes the image URL; identical images on different cards share it.
func ImgHash(img string) string {
	if img == "" {
		return ""
	}
	sum := md5.Sum([]byte(img))
	return hex.EncodeToString(sum[:])
}

// Normalize converts one raw offer to its canonical form. The final price and
// score fields stay unset; later pipeline passes fill them.
func Normalize(raw models.RawOffer, ids IDer) models.Offer {
	title := NormTitle(raw.Title)
	brand := GuessBrand(title)

	return models.Offer{
		Source:           raw.Source,
		ExternalID:       ids.ExternalIDFromURL(raw.URL),
		Title:            title,
		URL:              raw.URL,
		Img:              raw.Img,
		ImgHash:          ImgHash(raw.Img),
		Brand:            brand,
		Seller:           NormSeller(raw.Seller),
		Finger:           Fingerprint(title, brand, ""),
		Price:            raw.Price,
		PriceOld:         raw.PriceOld,
		ShippingDays:     raw.ShippingDays,
		ShippingIncluded: raw.ShippingIncluded,
		PromoFlags:       raw.PromoFlags,
		PriceInCart:      raw.PriceInCart,
		Subscription:     raw.Subscription,
		GeoID:            raw.GeoID,
		ObservedAt:       time.Now().UTC(),
	}
}

func capitalize(s string) string {
	lower := strings.ToLower(s)
	r := []rune(lower)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
