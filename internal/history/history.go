// Package history derives rolling price features from append-only
// price_history rows: 30/90-day aggregates and a 30-day trend.
package history

import (
	"math"
	"sort"
	"time"

	"github.com/dealscout/dealscout/internal/models"
)

// Stats holds the rolling aggregate over one window. Both fields are nil
// when the window contains no priced rows.
type Stats struct {
	Avg *int
	Min *int
}

// Features are the computed product aggregates the pipeline persists.
type Features struct {
	Stats30 Stats
	Stats90 Stats
	Trend30 *float64 // percent over 30 days, nil with < 2 points
}

// Compute builds features from a product's history. Points may arrive in any
// order; rows outside the 90-day window are ignored.
func Compute(points []models.PricePoint, now time.Time) Features {
	sorted := make([]models.PricePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TS.Before(sorted[j].TS) })

	return Features{
		Stats30: WindowStats(sorted, now.AddDate(0, 0, -30)),
		Stats90: WindowStats(sorted, now.AddDate(0, 0, -90)),
		Trend30: Trend30(sorted, now),
	}
}

// WindowStats aggregates rows with ts ≥ cutoff. Averages truncate toward
// zero, matching integer ruble columns.
func WindowStats(points []models.PricePoint, cutoff time.Time) Stats {
	var sum, count, min int
	for _, p := range points {
		if p.TS.Before(cutoff) || p.PriceFinal == nil {
			continue
		}
		v := *p.PriceFinal
		if count == 0 || v < min {
			min = v
		}
		sum += v
		count++
	}
	if count == 0 {
		return Stats{}
	}
	avg := sum / count
	minCopy := min
	return Stats{Avg: &avg, Min: &minCopy}
}

// Trend30 fits an ordinary-least-squares line over (days since first point,
// price) within the 30-day window and projects the slope across the full
// window as a percentage of the first price, rounded to two decimals.
// Returns nil with fewer than two priced points or a zero first price.
// points must be sorted by ts ascending.
func Trend30(points []models.PricePoint, now time.Time) *float64 {
	cutoff := now.AddDate(0, 0, -30)

	var xs, ys []float64
	var first time.Time
	for _, p := range points {
		if p.TS.Before(cutoff) || p.PriceFinal == nil {
			continue
		}
		if len(xs) == 0 {
			first = p.TS
		}
		xs = append(xs, p.TS.Sub(first).Hours()/24)
		ys = append(ys, float64(*p.PriceFinal))
	}
	if len(xs) < 2 || ys[0] == 0 {
		return nil
	}

	n := float64(len(xs))
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n

	var sxy, sxx float64
	for i := range xs {
		sxy += (xs[i] - meanX) * (ys[i] - meanY)
		sxx += (xs[i] - meanX) * (xs[i] - meanX)
	}
	if sxx == 0 {
		return nil
	}

	trend := math.Round(sxy/sxx*30/ys[0]*100*100) / 100
	return &trend
}
