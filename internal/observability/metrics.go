package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// page render latency per domain
	RenderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealscout_render_latency_seconds",
			Help:    "Latency of page rendering",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	// render failures per domain
	RenderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_render_errors_total",
			Help: "Total render errors",
		},
		[]string{"domain"},
	)

	// HTML cache outcomes: hit, revalidated, miss
	RenderCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_render_cache_total",
			Help: "Render HTML cache outcomes",
		},
		[]string{"result"},
	)

	// robots.txt denials per domain
	RobotsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_robots_denied_total",
			Help: "Total fetches denied by robots.txt",
		},
		[]string{"domain"},
	)

	// listing parse failures per domain
	ParseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_parse_errors_total",
			Help: "Total listing parse errors",
		},
		[]string{"domain"},
	)

	// share of listings that came back empty, per domain
	ListingEmptyShare = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dealscout_listing_empty_share",
			Help: "Share of empty listings",
		},
		[]string{"domain"},
	)

	// tasks published per site
	TasksPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_tasks_published_total",
			Help: "Total tasks published to the work queue",
		},
		[]string{"site"},
	)

	// tasks rejected by the admission gate
	TasksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_tasks_skipped_total",
			Help: "Tasks rejected before publishing",
		},
		[]string{"reason"},
	)

	// budget gate trips, by budget type (pages, tasks)
	BudgetExceeded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_budget_exceeded_total",
			Help: "Daily budget gate trips",
		},
		[]string{"type"},
	)

	// offers admitted by the score/discount filter, per site
	DealsAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_deals_admitted_total",
			Help: "Offers that passed the discount/score filter",
		},
		[]string{"site"},
	)

	// tasks drained from dead-letter streams
	DLQTasks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealscout_dlq_tasks_total",
			Help: "Total tasks processed from dead-letter streams",
		},
	)

	// current dead-letter backlog
	DLQBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealscout_dlq_backlog",
			Help: "Current length of the dead-letter stream",
		},
	)

	// notifier sends and suppressions
	NotifierSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dealscout_notifier_sent_total",
			Help: "Total deal messages sent",
		},
	)
	NotifierSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealscout_notifier_suppressed_total",
			Help: "Deal messages suppressed before sending",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		RenderLatency,
		RenderErrors,
		RenderCacheResults,
		RobotsDenied,
		ParseErrors,
		ListingEmptyShare,
		TasksPublished,
		TasksSkipped,
		BudgetExceeded,
		DealsAdmitted,
		DLQTasks,
		DLQBacklog,
		NotifierSent,
		NotifierSuppressed,
	)
}

var listingStatsMu sync.Mutex
var listingTotal = map[string]int{}
var listingEmpty = map[string]int{}

// UpdateListingStats tracks per-domain empty-listing share and publishes it
// on the ListingEmptyShare gauge.
func UpdateListingStats(domain string, empty bool) {
	listingStatsMu.Lock()
	defer listingStatsMu.Unlock()
	listingTotal[domain]++
	if empty {
		listingEmpty[domain]++
	}
	share := float64(listingEmpty[domain]) / float64(listingTotal[domain])
	ListingEmptyShare.WithLabelValues(domain).Set(share)
}
