package models

import "time"

// UserFilters narrows what a user gets notified about. Stored encrypted at rest.
type UserFilters struct {
	Categories []string           `json:"categories,omitempty"`
	Weights    map[string]float64 `json:"weights,omitempty"`
}

// ScoreWeights converts the stored weight override map into score weights.
// Unknown keys are ignored; nothing recognized yields nil.
func (f *UserFilters) ScoreWeights() *ScoreWeights {
	if f == nil || len(f.Weights) == 0 {
		return nil
	}
	w := &ScoreWeights{}
	set := false
	for k, v := range f.Weights {
		v := v
		switch k {
		case "discount":
			w.Discount, set = &v, true
		case "abs":
			w.Abs, set = &v, true
		case "seller":
			w.Seller, set = &v, true
		case "shipping":
			w.Shipping, set = &v, true
		case "base":
			w.Base, set = &v, true
		}
	}
	if !set {
		return nil
	}
	return w
}

// User is a chat subscriber with per-user thresholds and an optional
// cron-style digest schedule. A nil schedule means the user is paused from
// digests but still contributes to silent collection runs.
type User struct {
	ID           int64        `json:"id"`
	ChatID       int64        `json:"chat_id"`
	GeoID        string       `json:"geoid"`
	MinDiscount  int          `json:"min_discount"`
	MinScore     int          `json:"min_score"`
	Filters      *UserFilters `json:"filters,omitempty"`
	ScheduleCron string       `json:"schedule_cron,omitempty"`
}

// Favorite pins a product for a user with optional per-pin overrides.
type Favorite struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ProductID   int64     `json:"product_id"`
	GeoID       string    `json:"geoid,omitempty"`
	MinDiscount *int      `json:"min_discount,omitempty"`
	MinScore    *int      `json:"min_score,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
