package models

import (
	"encoding/json"
	"fmt"
)

// ScoreWeights tunes the offer score. Zero-valued fields fall back to the
// defaults, so a partial user override only replaces what it names.
type ScoreWeights struct {
	Discount *float64 `json:"discount,omitempty"`
	Abs      *float64 `json:"abs,omitempty"`
	Seller   *float64 `json:"seller,omitempty"`
	Shipping *float64 `json:"shipping,omitempty"`
	Base     *float64 `json:"base,omitempty"`
}

// TaskPayload is the wire format of one scrape task. It travels as a single
// JSON "data" field in a stream entry, next to the plaintext idempotency key.
type TaskPayload struct {
	Site        string        `json:"site"`
	URL         string        `json:"url"`
	GeoID       string        `json:"geoid"`
	Category    string        `json:"category"`
	MinDiscount int           `json:"min_discount"`
	MinScore    int           `json:"min_score"`
	Notify      bool          `json:"notify"`
	URLTemplate string        `json:"url_template,omitempty"`
	Page        *int          `json:"page,omitempty"`
	ChatID      int64         `json:"chat_id,omitempty"`
	Weights     *ScoreWeights `json:"weights,omitempty"`
}

// Validate rejects payloads that could never be processed.
func (t TaskPayload) Validate() error {
	if !KnownSource(t.Site) {
		return fmt.Errorf("task: unknown site %q", t.Site)
	}
	if t.URL == "" {
		return fmt.Errorf("task: empty url")
	}
	return nil
}

// IdempotencyKey identifies the task for publish dedup:
// site:geoid:category:url_template:page, with the URL standing in for a
// missing template and an empty slot for a missing page.
func (t TaskPayload) IdempotencyKey() string {
	tmpl := t.URLTemplate
	if tmpl == "" {
		tmpl = t.URL
	}
	page := ""
	if t.Page != nil {
		page = fmt.Sprintf("%d", *t.Page)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", t.Site, t.GeoID, t.Category, tmpl, page)
}

// Encode serializes the payload for the stream "data" field.
func (t TaskPayload) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("task: encode: %w", err)
	}
	return string(b), nil
}

// DecodeTask parses a stream "data" field back into a payload.
func DecodeTask(data string) (TaskPayload, error) {
	var t TaskPayload
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return TaskPayload{}, fmt.Errorf("task: decode: %w", err)
	}
	return t, nil
}
