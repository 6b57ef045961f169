package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscout/dealscout/internal/models"
)

func point(ts time.Time, price int) models.PricePoint {
	return models.PricePoint{TS: ts, PriceFinal: &price}
}

func TestComputeStatsAndTrend(t *testing.T) {
	now := time.Now().UTC()
	points := []models.PricePoint{
		point(now.AddDate(0, 0, -40), 200),
		point(now.AddDate(0, 0, -20), 100),
		point(now.AddDate(0, 0, -10), 80),
		point(now.AddDate(0, 0, -1), 120),
	}

	f := Compute(points, now)

	require.NotNil(t, f.Stats30.Avg)
	assert.Equal(t, 100, *f.Stats30.Avg)
	assert.Equal(t, 80, *f.Stats30.Min)

	require.NotNil(t, f.Stats90.Avg)
	assert.Equal(t, 125, *f.Stats90.Avg)
	assert.Equal(t, 80, *f.Stats90.Min)

	// OLS over (0d,100) (10d,80) (19d,120), slope projected over 30 days
	require.NotNil(t, f.Trend30)
	assert.InDelta(t, 29.89, *f.Trend30, 0.001)
}

func TestComputeUnsortedInput(t *testing.T) {
	now := time.Now().UTC()
	points := []models.PricePoint{
		point(now.AddDate(0, 0, -1), 120),
		point(now.AddDate(0, 0, -20), 100),
		point(now.AddDate(0, 0, -10), 80),
	}

	f := Compute(points, now)
	require.NotNil(t, f.Trend30)
	assert.InDelta(t, 29.89, *f.Trend30, 0.001)
}

func TestTrendNeedsTwoPoints(t *testing.T) {
	now := time.Now().UTC()
	assert.Nil(t, Trend30([]models.PricePoint{point(now.AddDate(0, 0, -5), 100)}, now))
	assert.Nil(t, Trend30(nil, now))

	// a lone in-window point next to an out-of-window one still fails
	points := []models.PricePoint{
		point(now.AddDate(0, 0, -40), 200),
		point(now.AddDate(0, 0, -5), 100),
	}
	assert.Nil(t, Trend30(points, now))
}

func TestTrendZeroFirstPrice(t *testing.T) {
	now := time.Now().UTC()
	points := []models.PricePoint{
		point(now.AddDate(0, 0, -10), 0),
		point(now.AddDate(0, 0, -1), 100),
	}
	assert.Nil(t, Trend30(points, now))
}

func TestWindowStatsSkipsNilPrices(t *testing.T) {
	now := time.Now().UTC()
	points := []models.PricePoint{
		{TS: now.AddDate(0, 0, -2)}, // no price
		point(now.AddDate(0, 0, -1), 500),
	}

	s := WindowStats(points, now.AddDate(0, 0, -30))
	require.NotNil(t, s.Avg)
	assert.Equal(t, 500, *s.Avg)
	assert.Equal(t, 500, *s.Min)
}

func TestWindowStatsEmpty(t *testing.T) {
	now := time.Now().UTC()
	s := WindowStats(nil, now.AddDate(0, 0, -30))
	assert.Nil(t, s.Avg)
	assert.Nil(t, s.Min)
}
