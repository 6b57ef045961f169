package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	ServiceName string

	PostgresDSN   string
	RedisAddr     string
	ClickHouseDSN string

	QueueStream    string
	WorkerSite     string
	WorkerGeoID    string
	WorkerCategory string

	PresetsFile   string
	SelectorsFile string
	DefaultGeoID  string
	RegionMapJSON string

	MinDiscount int
	MinScore    int

	ScrapeConcurrency int
	RenderCtxPool     int
	RenderPerDomain   int
	RenderTimeout     time.Duration
	RenderSleep       time.Duration
	RenderSleepJitter time.Duration
	RenderUserAgents  []string

	ShippingCost  int
	DailyMsgLimit int

	BudgetMaxPages int
	BudgetMaxTasks int
	QuietHours     string // "HH-HH", start>end spans midnight

	S3Endpoint      string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	SnapshotTTLDays int

	DLQOverflowThreshold int64

	DataEncryptionKey string // comma-separated base64 keys, first is active

	TelegramBotToken string
	TGChatID         int64

	MonitoringSlackWebhook   string
	MonitoringTelegramToken  string
	MonitoringTelegramChatID int64

	MetricsAddr string

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.ServiceName = getenv("SERVICE_NAME", "dealscout")

	cfg.PostgresDSN = getenv("DB_URL", "postgres://postgres@127.0.0.1:5432/dealscout?sslmode=disable")
	cfg.RedisAddr = getenv("REDIS_URL", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")

	cfg.QueueStream = getenv("QUEUE_STREAM", "presets")
	cfg.WorkerSite = getenv("WORKER_SITE", "")
	cfg.WorkerGeoID = getenv("WORKER_GEOID", "")
	cfg.WorkerCategory = getenv("WORKER_CATEGORY", "")

	cfg.PresetsFile = getenv("PRESETS_FILE", "./presets.yaml")
	cfg.SelectorsFile = getenv("SELECTORS_FILE", "./selectors.yaml")
	cfg.DefaultGeoID = getenv("DEFAULT_GEOID", "213")
	cfg.RegionMapJSON = getenv("REGION_MAP_JSON", "")

	cfg.MinDiscount = envInt("MIN_DISCOUNT", 25)
	cfg.MinScore = envInt("MIN_SCORE", 70)

	cfg.ScrapeConcurrency = envInt("SCRAPE_CONCURRENCY", 2)
	cfg.RenderCtxPool = envInt("RENDER_CTX_POOL", 4)
	cfg.RenderPerDomain = envInt("RENDER_PER_DOMAIN", 2)
	cfg.RenderTimeout = envDuration("RENDER_TIMEOUT", 60*time.Second)
	cfg.RenderSleep = envDuration("RENDER_SLEEP", 2*time.Second)
	cfg.RenderSleepJitter = envDuration("RENDER_SLEEP_JITTER", time.Second)
	cfg.RenderUserAgents = envList("RENDER_USER_AGENTS")

	cfg.ShippingCost = envInt("SHIPPING_COST", 199)
	cfg.DailyMsgLimit = envInt("DAILY_MSG_LIMIT", 100)

	cfg.BudgetMaxPages = envInt("BUDGET_MAX_PAGES", 500)
	cfg.BudgetMaxTasks = envInt("BUDGET_MAX_TASKS", 1000)
	cfg.QuietHours = getenv("QUIET_HOURS", "")

	cfg.S3Endpoint = getenv("S3_ENDPOINT", "")
	cfg.S3Bucket = getenv("S3_BUCKET", "")
	cfg.S3AccessKey = getenv("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getenv("S3_SECRET_KEY", "")
	cfg.S3UseSSL = envBool("S3_USE_SSL", true)
	cfg.SnapshotTTLDays = envInt("SNAPSHOT_TTL_DAYS", 14)

	cfg.DLQOverflowThreshold = int64(envInt("DLQ_OVERFLOW_THRESHOLD", 100))

	cfg.DataEncryptionKey = getenv("DATA_ENCRYPTION_KEY", "")

	cfg.TelegramBotToken = getenv("TELEGRAM_BOT_TOKEN", "")
	cfg.TGChatID = envInt64("TG_CHAT_ID", 0)

	cfg.MonitoringSlackWebhook = getenv("MONITORING_SLACK_WEBHOOK", "")
	cfg.MonitoringTelegramToken = getenv("MONITORING_TELEGRAM_TOKEN", "")
	cfg.MonitoringTelegramChatID = envInt64("MONITORING_TELEGRAM_CHAT_ID", 0)

	cfg.MetricsAddr = getenv("METRICS_ADDR", ":9090")

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// QuietWindow parses QUIET_HOURS into an hour pair. ok is false when the
// variable is unset or malformed.
func (c Config) QuietWindow() (start, end int, ok bool) {
	if c.QuietHours == "" {
		return 0, 0, false
	}
	parts := strings.SplitN(c.QuietHours, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	e, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || s < 0 || s > 23 || e < 0 || e > 23 {
		return 0, 0, false
	}
	return s, e, true
}

// RegionOverrides decodes REGION_MAP_JSON (geoid → city name).
func (c Config) RegionOverrides() (map[string]string, error) {
	if c.RegionMapJSON == "" {
		return nil, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(c.RegionMapJSON), &m); err != nil {
		return nil, fmt.Errorf("parse REGION_MAP_JSON: %w", err)
	}
	return m, nil
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envInt64 parses a 64-bit integer environment variable.
func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envList splits a comma-separated environment variable, dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
