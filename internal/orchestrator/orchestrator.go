// Package orchestrator turns the preset plan and user profiles into queue
// tasks on a schedule: two notifying digests a day plus a silent hourly
// collection run, with daily page/task budgets and quiet hours.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dealscout/dealscout/internal/models"
	"github.com/dealscout/dealscout/internal/observability"
)

// Digest runs notify users; the hourly run only feeds price history.
const (
	digestSpec = "0 9,19 * * *"
	hourlySpec = "0 * * * *"
)

// Publisher enqueues tasks. *queue.Queue implements it.
type Publisher interface {
	Publish(ctx context.Context, task models.TaskPayload) error
}

// UserSource loads the subscribers whose profiles shape digest tasks.
type UserSource interface {
	LoadActiveUsers(ctx context.Context) ([]models.User, error)
}

// Config carries the orchestrator's knobs, already resolved from the
// environment.
type Config struct {
	DefaultGeoID string
	MinDiscount  int
	MinScore     int

	BudgetMaxPages int
	BudgetMaxTasks int

	QuietStart   int
	QuietEnd     int
	QuietEnabled bool

	// PublishRate throttles queue writes; zero means 1/s.
	PublishRate rate.Limit
}

// Orchestrator owns the cron schedule and the daily budget ledger.
type Orchestrator struct {
	presets Presets
	users   UserSource
	pub     Publisher
	cfg     Config
	limiter *rate.Limiter
	cron    *cron.Cron

	mu        sync.Mutex
	budgetDay string
	pagesUsed int
	tasksUsed int

	now func() time.Time
}

// New wires an orchestrator. users may be nil when no subscriber DB is
// configured; only baseline tasks are published then.
func New(presets Presets, users UserSource, pub Publisher, cfg Config) *Orchestrator {
	if cfg.PublishRate <= 0 {
		cfg.PublishRate = rate.Limit(1)
	}
	return &Orchestrator{
		presets: presets,
		users:   users,
		pub:     pub,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.PublishRate, 1),
		now:     time.Now,
	}
}

// Start registers the cron entries and runs them until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := o.cron.AddFunc(digestSpec, func() { o.Run(ctx, true) }); err != nil {
		return fmt.Errorf("orchestrator: digest schedule: %w", err)
	}
	if _, err := o.cron.AddFunc(hourlySpec, func() { o.Run(ctx, false) }); err != nil {
		return fmt.Errorf("orchestrator: hourly schedule: %w", err)
	}
	o.cron.Start()
	zap.L().Info("orchestrator started",
		zap.String("digest", digestSpec), zap.String("hourly", hourlySpec),
		zap.Int("presets", len(o.presets.Sites)))

	<-ctx.Done()
	<-o.cron.Stop().Done()
	return nil
}

// Run publishes one round of tasks: the baseline plan at the default region,
// plus per-user variants for subscribers whose digest cron matches now.
func (o *Orchestrator) Run(ctx context.Context, notify bool) {
	now := o.now().UTC()

	if o.quietAt(now) {
		for range o.presets.Sites {
			observability.TasksSkipped.WithLabelValues("quiet_hours").Inc()
		}
		zap.L().Info("run suppressed by quiet hours",
			zap.Bool("notify", notify), zap.Int("hour", now.Hour()))
		return
	}

	for _, preset := range o.presets.Sites {
		o.publishPreset(ctx, preset, taskProfile{
			geoid:       o.presetGeoID(preset),
			minDiscount: o.cfg.MinDiscount,
			minScore:    o.cfg.MinScore,
			notify:      notify,
		})
	}

	if !notify || o.users == nil {
		return
	}
	users, err := o.users.LoadActiveUsers(ctx)
	if err != nil {
		zap.L().Error("load users failed", zap.Error(err))
		return
	}
	for _, u := range users {
		if !userDue(u, now) {
			continue
		}
		profile := taskProfile{
			geoid:       u.GeoID,
			minDiscount: u.MinDiscount,
			minScore:    u.MinScore,
			notify:      true,
			chatID:      u.ChatID,
		}
		if profile.geoid == "" {
			profile.geoid = o.cfg.DefaultGeoID
		}
		profile.weights = u.Filters.ScoreWeights()
		for _, preset := range o.userPresets(u) {
			o.publishPreset(ctx, preset, profile)
		}
	}
}

type taskProfile struct {
	geoid       string
	minDiscount int
	minScore    int
	notify      bool
	chatID      int64
	weights     *models.ScoreWeights
}

func (o *Orchestrator) publishPreset(ctx context.Context, preset Preset, profile taskProfile) {
	pages := preset.PageCount()
	for page := 1; page <= pages; page++ {
		if !o.takeBudget() {
			return
		}
		task := models.TaskPayload{
			Site:        preset.Site,
			URL:         preset.PageURL(page),
			GeoID:       profile.geoid,
			Category:    preset.Category,
			MinDiscount: profile.minDiscount,
			MinScore:    profile.minScore,
			Notify:      profile.notify,
			ChatID:      profile.chatID,
			Weights:     profile.weights,
		}
		if pages > 1 {
			p := page
			task.URLTemplate = preset.URL
			task.Page = &p
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return
		}
		if err := o.pub.Publish(ctx, task); err != nil {
			zap.L().Error("publish failed",
				zap.String("site", task.Site), zap.String("url", task.URL), zap.Error(err))
		}
	}
}

// takeBudget charges one page fetch and one task against the daily ledger,
// resetting at UTC midnight. Zero limits disable the corresponding gate.
func (o *Orchestrator) takeBudget() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	day := o.now().UTC().Format("2006-01-02")
	if day != o.budgetDay {
		o.budgetDay = day
		o.pagesUsed = 0
		o.tasksUsed = 0
	}

	if o.cfg.BudgetMaxPages > 0 && o.pagesUsed >= o.cfg.BudgetMaxPages {
		observability.BudgetExceeded.WithLabelValues("pages").Inc()
		observability.TasksSkipped.WithLabelValues("budget").Inc()
		return false
	}
	if o.cfg.BudgetMaxTasks > 0 && o.tasksUsed >= o.cfg.BudgetMaxTasks {
		observability.BudgetExceeded.WithLabelValues("tasks").Inc()
		observability.TasksSkipped.WithLabelValues("budget").Inc()
		return false
	}

	o.pagesUsed++
	o.tasksUsed++
	return true
}

func (o *Orchestrator) presetGeoID(p Preset) string {
	if p.GeoID != "" {
		return p.GeoID
	}
	if o.presets.GeoIDDefault != "" {
		return o.presets.GeoIDDefault
	}
	return o.cfg.DefaultGeoID
}

// userPresets narrows the plan to the user's subscribed categories; no
// filter means everything.
func (o *Orchestrator) userPresets(u models.User) []Preset {
	if u.Filters == nil || len(u.Filters.Categories) == 0 {
		return o.presets.Sites
	}
	wanted := map[string]bool{}
	for _, c := range u.Filters.Categories {
		wanted[c] = true
	}
	var out []Preset
	for _, p := range o.presets.Sites {
		if wanted[p.Category] {
			out = append(out, p)
		}
	}
	return out
}

// quietAt reports whether the hour falls inside the quiet window. A window
// with start > end spans midnight.
func (o *Orchestrator) quietAt(now time.Time) bool {
	if !o.cfg.QuietEnabled {
		return false
	}
	h := now.Hour()
	start, end := o.cfg.QuietStart, o.cfg.QuietEnd
	if start <= end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// userDue reports whether the user's personal digest cron fires this minute.
// An empty schedule means the user follows the global digest.
func userDue(u models.User, now time.Time) bool {
	if u.ScheduleCron == "" {
		return true
	}
	sched, err := cron.ParseStandard(u.ScheduleCron)
	if err != nil {
		zap.L().Warn("bad user schedule",
			zap.Int64("chat_id", u.ChatID), zap.String("cron", u.ScheduleCron))
		return false
	}
	minute := now.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute)
}

