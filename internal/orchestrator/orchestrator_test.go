package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/dealscout/dealscout/internal/models"
)

type fakePublisher struct {
	mu    sync.Mutex
	tasks []models.TaskPayload
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, task models.TaskPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakePublisher) published() []models.TaskPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TaskPayload, len(f.tasks))
	copy(out, f.tasks)
	return out
}

type fakeUsers struct {
	users []models.User
}

func (f *fakeUsers) LoadActiveUsers(_ context.Context) ([]models.User, error) {
	return f.users, nil
}

func testPresets() Presets {
	return Presets{
		GeoIDDefault: "213",
		Sites: []Preset{
			{Site: models.SourceOzon, Category: "laptops", URL: "https://www.ozon.ru/category/noutbuki/"},
			{Site: models.SourceMarket, Category: "phones", URL: "https://market.yandex.ru/catalog--telefony/"},
		},
	}
}

func testOrchestrator(presets Presets, users UserSource, pub Publisher, cfg Config) *Orchestrator {
	cfg.PublishRate = rate.Inf
	return New(presets, users, pub, cfg)
}

func TestRunPublishesBaseline(t *testing.T) {
	pub := &fakePublisher{}
	o := testOrchestrator(testPresets(), nil, pub, Config{MinDiscount: 25, MinScore: 70})

	o.Run(context.Background(), false)

	tasks := pub.published()
	require.Len(t, tasks, 2)
	assert.Equal(t, "213", tasks[0].GeoID)
	assert.Equal(t, "laptops", tasks[0].Category)
	assert.Equal(t, 25, tasks[0].MinDiscount)
	assert.False(t, tasks[0].Notify)
	assert.Zero(t, tasks[0].ChatID)
}

func TestRunExpandsPages(t *testing.T) {
	presets := Presets{
		GeoIDDefault: "213",
		Sites: []Preset{{
			Site: models.SourceOzon, Category: "laptops",
			URL: "https://www.ozon.ru/category/noutbuki/?page={page}", Pages: 3,
		}},
	}
	pub := &fakePublisher{}
	o := testOrchestrator(presets, nil, pub, Config{})

	o.Run(context.Background(), false)

	tasks := pub.published()
	require.Len(t, tasks, 3)
	assert.Equal(t, "https://www.ozon.ru/category/noutbuki/?page=2", tasks[1].URL)
	require.NotNil(t, tasks[1].Page)
	assert.Equal(t, 2, *tasks[1].Page)
	assert.Equal(t, "https://www.ozon.ru/category/noutbuki/?page={page}", tasks[1].URLTemplate)
}

func TestBudgetStopsPublishing(t *testing.T) {
	presets := Presets{
		GeoIDDefault: "213",
		Sites: []Preset{{
			Site: models.SourceOzon, Category: "laptops",
			URL: "https://www.ozon.ru/category/noutbuki/?page={page}", Pages: 5,
		}},
	}
	pub := &fakePublisher{}
	o := testOrchestrator(presets, nil, pub, Config{BudgetMaxPages: 1, BudgetMaxTasks: 100})

	o.Run(context.Background(), false)
	assert.Len(t, pub.published(), 1)
}

func TestPageBudgetCountsEveryTask(t *testing.T) {
	// Single-page presets spend the page budget too.
	pub := &fakePublisher{}
	o := testOrchestrator(testPresets(), nil, pub, Config{BudgetMaxPages: 1, BudgetMaxTasks: 2})

	o.Run(context.Background(), false)
	assert.Len(t, pub.published(), 1)
}

func TestTaskBudgetAcrossRuns(t *testing.T) {
	pub := &fakePublisher{}
	o := testOrchestrator(testPresets(), nil, pub, Config{BudgetMaxTasks: 3})

	o.Run(context.Background(), false)
	o.Run(context.Background(), false)
	assert.Len(t, pub.published(), 3)
}

func TestBudgetResetsNextDay(t *testing.T) {
	pub := &fakePublisher{}
	o := testOrchestrator(testPresets(), nil, pub, Config{BudgetMaxTasks: 2})

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return day }
	o.Run(context.Background(), false)
	o.Run(context.Background(), false)
	assert.Len(t, pub.published(), 2)

	o.now = func() time.Time { return day.AddDate(0, 0, 1) }
	o.Run(context.Background(), false)
	assert.Len(t, pub.published(), 4)
}

func TestQuietHoursSuppressAllRuns(t *testing.T) {
	pub := &fakePublisher{}
	o := testOrchestrator(testPresets(), nil, pub, Config{
		QuietEnabled: true, QuietStart: 22, QuietEnd: 7,
	})
	o.now = func() time.Time { return time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC) }

	// quiet hours gate admission for every run, silent collection included
	o.Run(context.Background(), true)
	o.Run(context.Background(), false)
	assert.Empty(t, pub.published())

	o.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	o.Run(context.Background(), false)
	assert.Len(t, pub.published(), 2)
}

func TestQuietHoursEndExclusive(t *testing.T) {
	o := testOrchestrator(testPresets(), nil, &fakePublisher{}, Config{
		QuietEnabled: true, QuietStart: 22, QuietEnd: 7,
	})
	assert.True(t, o.quietAt(time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)))
	assert.True(t, o.quietAt(time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, o.quietAt(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)))
	assert.False(t, o.quietAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestDigestPublishesUserTasks(t *testing.T) {
	users := &fakeUsers{users: []models.User{{
		ChatID: 42, GeoID: "2", MinDiscount: 30, MinScore: 80,
		Filters: &models.UserFilters{
			Categories: []string{"phones"},
			Weights:    map[string]float64{"discount": 0.6},
		},
	}}}
	pub := &fakePublisher{}
	o := testOrchestrator(testPresets(), users, pub, Config{MinDiscount: 25, MinScore: 70})

	o.Run(context.Background(), true)

	tasks := pub.published()
	require.Len(t, tasks, 3) // 2 baseline + 1 user

	user := tasks[2]
	assert.Equal(t, int64(42), user.ChatID)
	assert.Equal(t, "2", user.GeoID)
	assert.Equal(t, "phones", user.Category)
	assert.Equal(t, 30, user.MinDiscount)
	require.NotNil(t, user.Weights)
	require.NotNil(t, user.Weights.Discount)
	assert.Equal(t, 0.6, *user.Weights.Discount)
}

func TestUserScheduleGate(t *testing.T) {
	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, userDue(models.User{}, noon))
	assert.True(t, userDue(models.User{ScheduleCron: "0 12 * * *"}, noon))
	assert.False(t, userDue(models.User{ScheduleCron: "0 9 * * *"}, noon))
	assert.False(t, userDue(models.User{ScheduleCron: "not a cron"}, noon))
}

func TestFilterWeights(t *testing.T) {
	var none *models.UserFilters
	assert.Nil(t, none.ScoreWeights())
	assert.Nil(t, (&models.UserFilters{Weights: map[string]float64{"bogus": 1}}).ScoreWeights())

	w := (&models.UserFilters{Weights: map[string]float64{"abs": 0.5, "base": 0}}).ScoreWeights()
	require.NotNil(t, w)
	assert.Equal(t, 0.5, *w.Abs)
	assert.Equal(t, 0.0, *w.Base)
	assert.Nil(t, w.Discount)
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
geoid_default: "213"
sites:
  - site: ozon
    category: laptops
    url: "https://www.ozon.ru/category/noutbuki/?page={page}"
    pages: 3
  - site: market
    category: phones
    url: "https://market.yandex.ru/catalog--telefony/"
`), 0o644))

	p, err := LoadPresets(path)
	require.NoError(t, err)
	assert.Equal(t, "213", p.GeoIDDefault)
	require.Len(t, p.Sites, 2)
	assert.Equal(t, 3, p.Sites[0].PageCount())
	assert.Equal(t, 1, p.Sites[1].PageCount())
	assert.Equal(t, "https://www.ozon.ru/category/noutbuki/?page=2", p.Sites[0].PageURL(2))
}

func TestLoadPresetsRejectsUnknownSite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - site: wildberries
    url: "https://x/"
`), 0o644))

	_, err := LoadPresets(path)
	assert.Error(t, err)
}
