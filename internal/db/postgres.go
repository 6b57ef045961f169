package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dealscout/dealscout/internal/crypto"
	"github.com/dealscout/dealscout/internal/models"
)

// Postgres wraps a postgres DB connection plus the column codec for
// encrypted user data.
type Postgres struct {
	DB    *sql.DB
	codec *crypto.Codec
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS products (
    id SERIAL PRIMARY KEY,
    source TEXT NOT NULL,
    external_id TEXT NOT NULL,
    title TEXT NOT NULL,
    url TEXT NOT NULL UNIQUE,
    img TEXT,
    img_hash TEXT,
    brand TEXT,
    category TEXT,
    finger TEXT NOT NULL,
    geoid_created TEXT,
    avg_price_30d INT,
    min_price_30d INT,
    avg_price_90d INT,
    min_price_90d INT,
    trend_30d DOUBLE PRECISION,
    UNIQUE (source, external_id)
);

CREATE TABLE IF NOT EXISTS offers (
    id SERIAL PRIMARY KEY,
    product_id INT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    seller TEXT,
    price INT,
    price_old INT,
    price_final INT,
    shipping_days INT,
    shipping_included BOOLEAN NOT NULL DEFAULT FALSE,
    promo_flags JSONB,
    price_in_cart BOOLEAN NOT NULL DEFAULT FALSE,
    subscription BOOLEAN NOT NULL DEFAULT FALSE,
    geoid TEXT,
    scraped_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    discount_pct DOUBLE PRECISION,
    abs_saving INT,
    score DOUBLE PRECISION,
    fake_msrp BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS price_history (
    id SERIAL PRIMARY KEY,
    product_id INT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    price_final INT,
    seller TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id SERIAL PRIMARY KEY,
    product_id INT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    ts TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    type TEXT NOT NULL,
    payload JSONB
);

CREATE TABLE IF NOT EXISTS users (
    id SERIAL PRIMARY KEY,
    chat_id BIGINT NOT NULL UNIQUE,
    geoid TEXT,
    min_discount INT NOT NULL DEFAULT 0,
    min_score INT NOT NULL DEFAULT 0,
    filters TEXT,
    schedule_cron TEXT,
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS favorites (
    id SERIAL PRIMARY KEY,
    user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    product_id INT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    geoid TEXT,
    min_discount INT,
    min_score INT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (user_id, product_id)
);

-- Hot paths: history window scans and offer lookups by product
CREATE INDEX IF NOT EXISTS idx_price_history_product_ts ON price_history (product_id, ts);
CREATE INDEX IF NOT EXISTS idx_offers_product_id ON offers (product_id);
CREATE INDEX IF NOT EXISTS idx_events_product_ts ON events (product_id, ts);
CREATE INDEX IF NOT EXISTS idx_products_finger ON products (finger);
`

// InitPostgres connects to Postgres with connection pooling configuration.
// codec encrypts the users.filters column; nil disables encryption (tests).
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration, codec *crypto.Codec) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db, codec: codec}
	if err := p.ensureSchema(); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *Postgres) ensureSchema() error {
	if _, err := p.DB.ExecContext(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// UpsertProduct locates a product by URL, creating it on first sight. An
// existing product only gains img_hash when it lacked one; the hash is never
// overwritten or cleared.
func (p *Postgres) UpsertProduct(ctx context.Context, offer models.Offer) (models.Product, error) {
	var prod models.Product
	var imgHash sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT id, source, external_id, title, url, COALESCE(img,''), img_hash,
		        COALESCE(brand,''), COALESCE(category,''), finger, COALESCE(geoid_created,''),
		        avg_price_30d, min_price_30d, avg_price_90d, min_price_90d, trend_30d
		 FROM products WHERE url=$1`, offer.URL).Scan(
		&prod.ID, &prod.Source, &prod.ExternalID, &prod.Title, &prod.URL, &prod.Img, &imgHash,
		&prod.Brand, &prod.Category, &prod.Finger, &prod.GeoID,
		&prod.AvgPrice30d, &prod.MinPrice30d, &prod.AvgPrice90d, &prod.MinPrice90d, &prod.Trend30d)

	switch {
	case err == sql.ErrNoRows:
		err = p.DB.QueryRowContext(ctx,
			`INSERT INTO products (source, external_id, title, url, img, img_hash, brand, category, finger, geoid_created)
			 VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10)
			 ON CONFLICT (source, external_id) DO UPDATE SET title=EXCLUDED.title, url=EXCLUDED.url
			 RETURNING id`,
			offer.Source, offer.ExternalID, offer.Title, offer.URL, offer.Img, offer.ImgHash,
			offer.Brand, offer.Category, offer.Finger, offer.GeoID).Scan(&prod.ID)
		if err != nil {
			return models.Product{}, fmt.Errorf("insert product: %w", err)
		}
		prod.Source = offer.Source
		prod.ExternalID = offer.ExternalID
		prod.Title = offer.Title
		prod.URL = offer.URL
		prod.Img = offer.Img
		prod.ImgHash = offer.ImgHash
		prod.Brand = offer.Brand
		prod.Category = offer.Category
		prod.Finger = offer.Finger
		prod.GeoID = offer.GeoID
		return prod, nil
	case err != nil:
		return models.Product{}, fmt.Errorf("select product: %w", err)
	}

	if imgHash.Valid {
		prod.ImgHash = imgHash.String
	} else if offer.ImgHash != "" {
		if _, err := p.DB.ExecContext(ctx,
			`UPDATE products SET img_hash=$1, img=COALESCE(NULLIF(img,''),$2) WHERE id=$3 AND img_hash IS NULL`,
			offer.ImgHash, offer.Img, prod.ID); err != nil {
			return models.Product{}, fmt.Errorf("fill img_hash: %w", err)
		}
		prod.ImgHash = offer.ImgHash
	}
	return prod, nil
}

// InsertOffer appends one observation row and returns its id.
func (p *Postgres) InsertOffer(ctx context.Context, productID int64, o models.Offer) (int64, error) {
	flags, err := models.MarshalPromoFlags(o.PromoFlags)
	if err != nil {
		return 0, fmt.Errorf("marshal promo flags: %w", err)
	}
	var id int64
	err = p.DB.QueryRowContext(ctx,
		`INSERT INTO offers (product_id, seller, price, price_old, price_final,
		        shipping_days, shipping_included, promo_flags, price_in_cart, subscription, geoid, scraped_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		productID, o.Seller, o.Price, o.PriceOld, o.PriceFinal,
		o.ShippingDays, o.ShippingIncluded, nullBytes(flags), o.PriceInCart, o.Subscription, o.GeoID, o.ObservedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert offer: %w", err)
	}
	return id, nil
}

// AppendHistory writes one append-only price_history row.
func (p *Postgres) AppendHistory(ctx context.Context, productID int64, priceFinal *int, seller string, ts time.Time) error {
	if _, err := p.DB.ExecContext(ctx,
		`INSERT INTO price_history (product_id, ts, price_final, seller) VALUES ($1,$2,$3,$4)`,
		productID, ts, priceFinal, seller); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// HistorySince returns price_history rows with ts >= since, oldest first.
func (p *Postgres) HistorySince(ctx context.Context, productID int64, since time.Time) ([]models.PricePoint, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, product_id, ts, price_final, COALESCE(seller,'')
		 FROM price_history WHERE product_id=$1 AND ts >= $2 ORDER BY ts`,
		productID, since)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var points []models.PricePoint
	for rows.Next() {
		var pt models.PricePoint
		if err := rows.Scan(&pt.ID, &pt.ProductID, &pt.TS, &pt.PriceFinal, &pt.Seller); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		points = append(points, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return points, nil
}

// SaveAggregates persists the rolling feature columns on a product.
func (p *Postgres) SaveAggregates(ctx context.Context, productID int64, avg30, min30, avg90, min90 *int, trend30 *float64) error {
	if _, err := p.DB.ExecContext(ctx,
		`UPDATE products SET avg_price_30d=$1, min_price_30d=$2, avg_price_90d=$3, min_price_90d=$4, trend_30d=$5 WHERE id=$6`,
		avg30, min30, avg90, min90, trend30, productID); err != nil {
		return fmt.Errorf("save aggregates: %w", err)
	}
	return nil
}

// UpdateOfferScores persists the derived fields on one observation.
func (p *Postgres) UpdateOfferScores(ctx context.Context, offerID int64, discountPct *float64, absSaving *int, score float64, fakeMSRP bool) error {
	if _, err := p.DB.ExecContext(ctx,
		`UPDATE offers SET discount_pct=$1, abs_saving=$2, score=$3, fake_msrp=$4 WHERE id=$5`,
		discountPct, absSaving, score, fakeMSRP, offerID); err != nil {
		return fmt.Errorf("update offer scores: %w", err)
	}
	return nil
}

// AppendEvent writes one typed event-log row.
func (p *Postgres) AppendEvent(ctx context.Context, e models.Event) error {
	var payload []byte
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = b
	}
	if _, err := p.DB.ExecContext(ctx,
		`INSERT INTO events (product_id, ts, type, payload) VALUES ($1,$2,$3,$4)`,
		e.ProductID, e.TS, e.Type, nullBytes(payload)); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadActiveUsers returns all active subscribers with filters decrypted.
func (p *Postgres) LoadActiveUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, chat_id, COALESCE(geoid,''), min_discount, min_score, filters, COALESCE(schedule_cron,'')
		 FROM users WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var users []models.User
	for rows.Next() {
		u, err := p.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return users, nil
}

// GetUserByChatID loads one subscriber; sql.ErrNoRows passes through.
func (p *Postgres) GetUserByChatID(ctx context.Context, chatID int64) (models.User, error) {
	row := p.DB.QueryRowContext(ctx,
		`SELECT id, chat_id, COALESCE(geoid,''), min_discount, min_score, filters, COALESCE(schedule_cron,'')
		 FROM users WHERE chat_id=$1`, chatID)
	return p.scanUser(row)
}

// UpsertUser creates or refreshes a subscriber, encrypting filters at rest.
func (p *Postgres) UpsertUser(ctx context.Context, u models.User) error {
	filters, err := p.encodeFilters(u.Filters)
	if err != nil {
		return err
	}
	if _, err := p.DB.ExecContext(ctx,
		`INSERT INTO users (chat_id, geoid, min_discount, min_score, filters, schedule_cron, active)
		 VALUES ($1,$2,$3,$4,$5,$6,TRUE)
		 ON CONFLICT (chat_id) DO UPDATE SET geoid=EXCLUDED.geoid, min_discount=EXCLUDED.min_discount,
		        min_score=EXCLUDED.min_score, filters=EXCLUDED.filters, schedule_cron=EXCLUDED.schedule_cron, active=TRUE`,
		u.ChatID, u.GeoID, u.MinDiscount, u.MinScore, filters, u.ScheduleCron); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// AddFavorite pins a product for a user; repeated pins are no-ops.
func (p *Postgres) AddFavorite(ctx context.Context, f models.Favorite) error {
	if _, err := p.DB.ExecContext(ctx,
		`INSERT INTO favorites (user_id, product_id, geoid, min_discount, min_score)
		 VALUES ($1,$2,NULLIF($3,''),$4,$5)
		 ON CONFLICT (user_id, product_id) DO NOTHING`,
		f.UserID, f.ProductID, f.GeoID, f.MinDiscount, f.MinScore); err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// ListFavorites returns a user's pins, newest first.
func (p *Postgres) ListFavorites(ctx context.Context, userID int64) ([]models.Favorite, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT id, user_id, product_id, COALESCE(geoid,''), min_discount, min_score, created_at
		 FROM favorites WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var favs []models.Favorite
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.ID, &f.UserID, &f.ProductID, &f.GeoID, &f.MinDiscount, &f.MinScore, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favs = append(favs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return favs, nil
}

// RemoveFavorite unpins a product for a user.
func (p *Postgres) RemoveFavorite(ctx context.Context, userID, productID int64) error {
	if _, err := p.DB.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id=$1 AND product_id=$2`, userID, productID); err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var filters sql.NullString
	if err := row.Scan(&u.ID, &u.ChatID, &u.GeoID, &u.MinDiscount, &u.MinScore, &filters, &u.ScheduleCron); err != nil {
		if err == sql.ErrNoRows {
			return models.User{}, err
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	if filters.Valid && filters.String != "" {
		f, err := p.decodeFilters(filters.String)
		if err != nil {
			// A row sealed with a retired key is unreadable, not fatal.
			zap.L().Warn("user filters unreadable", zap.Int64("chat_id", u.ChatID), zap.Error(err))
		} else {
			u.Filters = f
		}
	}
	return u, nil
}

func (p *Postgres) encodeFilters(f *models.UserFilters) (any, error) {
	if f == nil {
		return nil, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal filters: %w", err)
	}
	if p.codec == nil {
		return string(raw), nil
	}
	token, err := p.codec.Encrypt(string(raw))
	if err != nil {
		return nil, fmt.Errorf("encrypt filters: %w", err)
	}
	return token, nil
}

func (p *Postgres) decodeFilters(stored string) (*models.UserFilters, error) {
	plain := stored
	if p.codec != nil {
		var err error
		plain, err = p.codec.Decrypt(stored)
		if err != nil {
			return nil, err
		}
	}
	var f models.UserFilters
	if err := json.Unmarshal([]byte(plain), &f); err != nil {
		return nil, fmt.Errorf("parse filters: %w", err)
	}
	return &f, nil
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
