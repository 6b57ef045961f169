// Package analytics streams offer observations into ClickHouse for offline
// analysis: price distributions per category, scrape volumes per shard,
// admit rates per site.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = fmt.Errorf("analytics unavailable")

// Observation is one scored offer as the pipeline saw it.
type Observation struct {
	Timestamp   time.Time `json:"timestamp"`
	Site        string    `json:"site"`
	ExternalID  string    `json:"external_id"`
	ProductID   int64     `json:"product_id"`
	GeoID       string    `json:"geoid"`
	Category    string    `json:"category"`
	Price       *int      `json:"price"`
	PriceOld    *int      `json:"price_old"`
	PriceFinal  *int      `json:"price_final"`
	DiscountPct *float64  `json:"discount_pct"`
	Score       float64   `json:"score"`
	FakeMSRP    bool      `json:"fake_msrp"`
	Admitted    bool      `json:"admitted"`
}

// Sink receives pipeline observations. Implementations must tolerate being
// called concurrently from many workers.
type Sink interface {
	RecordObservation(ctx context.Context, obs Observation) error
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB *sql.DB
}

// InitClickHouse connects to ClickHouse and ensures the observations table
// exists.
func InitClickHouse(dsn string) (*Analytics, error) {
	ch, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	ch.SetMaxOpenConns(25)
	if err := ch.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	create := `CREATE TABLE IF NOT EXISTS offer_observations (
       timestamp    DateTime,
       site         String,
       external_id  String,
       product_id   Int64,
       geoid        String,
       category     String,
       price        Nullable(Int32),
       price_old    Nullable(Int32),
       price_final  Nullable(Int32),
       discount_pct Nullable(Float64),
       score        Float64,
       fake_msrp    UInt8,
       admitted     UInt8
   ) ENGINE=MergeTree() ORDER BY (site, timestamp)`
	if _, err := ch.ExecContext(context.Background(), create); err != nil {
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	zap.L().Info("Connected to ClickHouse")
	return &Analytics{DB: ch}, nil
}

// RecordObservation inserts a single observation row.
func (a *Analytics) RecordObservation(ctx context.Context, obs Observation) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	stmt := `INSERT INTO offer_observations
	    (timestamp, site, external_id, product_id, geoid, category, price, price_old, price_final, discount_pct, score, fake_msrp, admitted)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt,
		obs.Timestamp, obs.Site, obs.ExternalID, obs.ProductID, obs.GeoID, obs.Category,
		nullInt(obs.Price), nullInt(obs.PriceOld), nullInt(obs.PriceFinal),
		nullFloat(obs.DiscountPct), obs.Score, boolByte(obs.FakeMSRP), boolByte(obs.Admitted)); err != nil {
		zap.L().Error("clickhouse insert failed", zap.Error(err), zap.String("site", obs.Site))
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
