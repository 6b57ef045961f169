// Package dedupe collapses offers that are the same product listed twice,
// matched by content fingerprint or image hash.
package dedupe

import "github.com/dealscout/dealscout/internal/models"

const noPrice = 1 << 40 // null price_final sorts last

// Offers walks items in order and merges collisions on finger or img_hash,
// keeping the offer with the smaller final price in place of the earlier one.
// Output order is first-seen order of the surviving groups. Offers without an
// image are matched on finger only.
func Offers(items []models.Offer) []models.Offer {
	byFinger := make(map[string]int, len(items))
	byImg := make(map[string]int, len(items))
	result := make([]models.Offer, 0, len(items))

	for _, it := range items {
		idx, found := byFinger[it.Finger]
		if !found && it.ImgHash != "" {
			idx, found = byImg[it.ImgHash]
		}
		if found {
			if finalOrMax(it) < finalOrMax(result[idx]) {
				result[idx] = it
				byFinger[it.Finger] = idx
				if it.ImgHash != "" {
					byImg[it.ImgHash] = idx
				}
			}
			continue
		}

		result = append(result, it)
		idx = len(result) - 1
		byFinger[it.Finger] = idx
		if it.ImgHash != "" {
			byImg[it.ImgHash] = idx
		}
	}
	return result
}

func finalOrMax(o models.Offer) int {
	if o.PriceFinal == nil {
		return noPrice
	}
	return *o.PriceFinal
}
