package worker

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/pipeline"
)

type fakeRunner struct {
	jobs  []pipeline.Job
	deals []models.Deal
	err   error
}

func (f *fakeRunner) ProcessListing(_ context.Context, job pipeline.Job) ([]models.Deal, error) {
	f.jobs = append(f.jobs, job)
	return f.deals, f.err
}

type fakeUsers struct {
	users map[int64]models.User
}

func (f *fakeUsers) GetUserByChatID(_ context.Context, chatID int64) (models.User, error) {
	u, ok := f.users[chatID]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return u, nil
}

type fakeBatcher struct {
	chatID int64
	deals  []models.Deal
	calls  int
}

func (f *fakeBatcher) SendBatch(_ context.Context, chatID int64, deals []models.Deal) (int, error) {
	f.calls++
	f.chatID = chatID
	f.deals = deals
	return len(deals), nil
}

func manyDeals(n int) []models.Deal {
	out := make([]models.Deal, n)
	for i := range out {
		out[i] = models.Deal{
			URL:   fmt.Sprintf("https://www.ozon.ru/product/item-%d/", i),
			Price: 100, Score: float64(100 - i),
		}
	}
	return out
}

func baseTask() models.TaskPayload {
	return models.TaskPayload{
		Site: models.SourceOzon, URL: "https://www.ozon.ru/category/noutbuki/",
		GeoID: "213", Category: "laptops", MinDiscount: 25, MinScore: 70,
	}
}

func TestHandleRunsPipeline(t *testing.T) {
	runner := &fakeRunner{}
	w := New(nil, runner, nil, "ozon", "213", "laptops", "213", 0)

	require.NoError(t, w.Handle(context.Background(), baseTask()))
	require.Len(t, runner.jobs, 1)
	assert.Equal(t, "213", runner.jobs[0].GeoID)
	assert.Equal(t, 25, runner.jobs[0].MinDiscount)
}

func TestHandlePropagatesPipelineError(t *testing.T) {
	runner := &fakeRunner{err: pipeline.ErrRegionMismatch}
	w := New(nil, runner, nil, "ozon", "", "", "213", 0)

	err := w.Handle(context.Background(), baseTask())
	assert.ErrorIs(t, err, pipeline.ErrRegionMismatch)
}

func TestHandleNotifiesDefaultChat(t *testing.T) {
	runner := &fakeRunner{deals: manyDeals(3)}
	batcher := &fakeBatcher{}
	w := New(nil, runner, batcher, "ozon", "", "", "213", 777)

	task := baseTask()
	task.Notify = true
	require.NoError(t, w.Handle(context.Background(), task))
	assert.Equal(t, int64(777), batcher.chatID)
	assert.Len(t, batcher.deals, 3)
}

func TestHandleCapsBatch(t *testing.T) {
	runner := &fakeRunner{deals: manyDeals(30)}
	batcher := &fakeBatcher{}
	w := New(nil, runner, batcher, "ozon", "", "", "213", 777)

	task := baseTask()
	task.Notify = true
	require.NoError(t, w.Handle(context.Background(), task))
	require.Len(t, batcher.deals, maxDealsPerTask)
	// best first survives the cap
	assert.Equal(t, float64(100), batcher.deals[0].Score)
}

func TestHandleSilentTaskSkipsNotifier(t *testing.T) {
	runner := &fakeRunner{deals: manyDeals(3)}
	batcher := &fakeBatcher{}
	w := New(nil, runner, batcher, "ozon", "", "", "213", 777)

	require.NoError(t, w.Handle(context.Background(), baseTask()))
	assert.Zero(t, batcher.calls)
}

func TestHandleOverlaysUserProfile(t *testing.T) {
	users := &fakeUsers{users: map[int64]models.User{42: {
		ChatID: 42, GeoID: "2", MinDiscount: 40, MinScore: 90,
		Filters: &models.UserFilters{Weights: map[string]float64{"discount": 0.7}},
	}}}
	runner := &fakeRunner{}
	batcher := &fakeBatcher{}
	w := New(users, runner, batcher, "ozon", "", "", "213", 0)

	task := baseTask()
	task.ChatID = 42
	task.Notify = true
	require.NoError(t, w.Handle(context.Background(), task))

	job := runner.jobs[0]
	assert.Equal(t, "2", job.GeoID)
	assert.Equal(t, 40, job.MinDiscount)
	assert.Equal(t, 90, job.MinScore)
	require.NotNil(t, job.Weights)
	assert.Equal(t, 0.7, *job.Weights.Discount)
}

func TestHandleUnknownUserKeepsTaskProfile(t *testing.T) {
	users := &fakeUsers{users: map[int64]models.User{}}
	runner := &fakeRunner{deals: manyDeals(1)}
	batcher := &fakeBatcher{}
	w := New(users, runner, batcher, "ozon", "", "", "213", 0)

	task := baseTask()
	task.ChatID = 42
	task.Notify = true
	require.NoError(t, w.Handle(context.Background(), task))

	assert.Equal(t, 25, runner.jobs[0].MinDiscount)
	// the task's chat still gets the batch
	assert.Equal(t, int64(42), batcher.chatID)
}

func TestHandleEmptyGeoIDFallsBack(t *testing.T) {
	runner := &fakeRunner{}
	w := New(nil, runner, nil, "ozon", "", "", "213", 0)

	task := baseTask()
	task.GeoID = ""
	require.NoError(t, w.Handle(context.Background(), task))
	assert.Equal(t, "213", runner.jobs[0].GeoID)
}
