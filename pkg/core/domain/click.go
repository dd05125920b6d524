package domain

import "time"

// ClickEvent is an append-only record of one redirect.
type ClickEvent struct {
	ID         string      `json:"id"`
	LinkID     string      `json:"link_id"`
	VariantID  string      `json:"variant_id,omitempty"`
	Country    string      `json:"country,omitempty"`
	DeviceType DeviceClass `json:"device_type,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// LinkStats represents aggregated statistics for a link
type LinkStats struct {
	TotalClicks int64            `json:"total_clicks"`
	Countries   map[string]int64 `json:"countries"`
	Variants    map[string]int64 `json:"variants"`
	DailyClicks []DailyClick     `json:"daily_clicks"`
}

type DailyClick struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}
