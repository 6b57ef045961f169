// Package worker consumes one queue shard and runs the pipeline on each
// task, refreshing per-user settings at execution time and pushing admitted
// deals to the notifier.
package worker

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/pipeline"
	"github.com/dealscout/dealscout/internal/queue"
)

// maxDealsPerTask caps one task's notification batch; deals arrive sorted
// best first, so the cap keeps the strongest ones.
const maxDealsPerTask = 20

// Users resolves chat subscribers. *db.Postgres implements it.
type Users interface {
	GetUserByChatID(ctx context.Context, chatID int64) (models.User, error)
}

// Runner executes pipeline jobs. *pipeline.Processor implements it.
type Runner interface {
	ProcessListing(ctx context.Context, job pipeline.Job) ([]models.Deal, error)
}

// Batcher delivers deal batches. *notifier.Notifier implements it.
type Batcher interface {
	SendBatch(ctx context.Context, chatID int64, deals []models.Deal) (int, error)
}

// Consumer reads a queue shard. *queue.Queue implements it.
type Consumer interface {
	Consume(ctx context.Context, consumerName, site, geoid, category string, handler queue.Handler) error
}

// Worker processes one shard of the task queue.
type Worker struct {
	users    Users
	runner   Runner
	notifier Batcher

	site          string
	geoid         string
	category      string
	defaultGeoID  string
	defaultChatID int64
}

// New wires a worker for one shard. users and notifier may be nil: tasks
// then run without profile refresh or notifications.
func New(users Users, runner Runner, notifier Batcher, site, geoid, category, defaultGeoID string, defaultChatID int64) *Worker {
	return &Worker{
		users:         users,
		runner:        runner,
		notifier:      notifier,
		site:          site,
		geoid:         geoid,
		category:      category,
		defaultGeoID:  defaultGeoID,
		defaultChatID: defaultChatID,
	}
}

// Run consumes the shard until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, q Consumer, consumerName string) error {
	zap.L().Info("worker starting",
		zap.String("consumer", consumerName),
		zap.String("site", w.site), zap.String("geoid", w.geoid), zap.String("category", w.category))
	return q.Consume(ctx, consumerName, w.site, w.geoid, w.category, w.Handle)
}

// Handle runs one task through the pipeline and notifies on success.
func (w *Worker) Handle(ctx context.Context, task models.TaskPayload) error {
	job := w.jobFor(ctx, task)

	deals, err := w.runner.ProcessListing(ctx, job)
	if err != nil {
		return err
	}
	zap.L().Info("task processed",
		zap.String("site", job.Site), zap.String("url", job.URL), zap.Int("deals", len(deals)))

	if !task.Notify || w.notifier == nil || len(deals) == 0 {
		return nil
	}
	chatID := task.ChatID
	if chatID == 0 {
		chatID = w.defaultChatID
	}
	if chatID == 0 {
		return nil
	}
	if len(deals) > maxDealsPerTask {
		deals = deals[:maxDealsPerTask]
	}
	sent, err := w.notifier.SendBatch(ctx, chatID, deals)
	if err != nil {
		// the scrape itself succeeded; requeueing it would rescrape the page
		zap.L().Error("notification failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}
	zap.L().Info("deals sent", zap.Int64("chat_id", chatID), zap.Int("sent", sent))
	return nil
}

// jobFor builds the pipeline job, overlaying the user's current profile so
// settings changed after publish still apply.
func (w *Worker) jobFor(ctx context.Context, task models.TaskPayload) pipeline.Job {
	job := pipeline.Job{
		Site:        task.Site,
		URL:         task.URL,
		GeoID:       task.GeoID,
		Category:    task.Category,
		MinDiscount: task.MinDiscount,
		MinScore:    task.MinScore,
		Weights:     task.Weights,
	}
	if job.GeoID == "" {
		job.GeoID = w.defaultGeoID
	}

	if task.ChatID == 0 || w.users == nil {
		return job
	}
	user, err := w.users.GetUserByChatID(ctx, task.ChatID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			zap.L().Warn("user lookup failed", zap.Int64("chat_id", task.ChatID), zap.Error(err))
		}
		return job
	}
	if user.GeoID != "" {
		job.GeoID = user.GeoID
	}
	if user.MinDiscount > 0 {
		job.MinDiscount = user.MinDiscount
	}
	if user.MinScore > 0 {
		job.MinScore = user.MinScore
	}
	if job.Weights == nil {
		job.Weights = user.Filters.ScoreWeights()
	}
	return job
}
