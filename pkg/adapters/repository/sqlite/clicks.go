package sqlite

import (
	"context"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

// Append stores one click event. It makes the repository usable as the
// click sink when no message broker is configured.
func (r *SQLiteRepository) Append(ctx context.Context, ev *domain.ClickEvent) error {
	query := `INSERT INTO click_events (id, link_id, variant_id, country, device_type, ts) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, ev.ID, ev.LinkID, ev.VariantID, ev.Country,
		string(ev.DeviceType), toNanos(ev.Timestamp))
	return err
}

func (r *SQLiteRepository) GetLinkStats(ctx context.Context, linkID string) (*domain.LinkStats, error) {
	stats := &domain.LinkStats{
		Countries:   make(map[string]int64),
		Variants:    make(map[string]int64),
		DailyClicks: []domain.DailyClick{},
	}

	// Total Clicks
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM click_events WHERE link_id = ?`, linkID).Scan(&stats.TotalClicks)
	if err != nil {
		return nil, err
	}

	if err := r.groupCount(ctx, `SELECT country, COUNT(*) AS c FROM click_events WHERE link_id = ?
		GROUP BY country ORDER BY c DESC LIMIT 20`, linkID, stats.Countries, "Unknown"); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, `SELECT variant_id, COUNT(*) FROM click_events WHERE link_id = ? AND variant_id != ''
		GROUP BY variant_id`, linkID, stats.Variants, ""); err != nil {
		return nil, err
	}

	// Daily Clicks (Last 30 days). ts is unix nanoseconds.
	rows, err := r.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d', ts / 1000000000, 'unixepoch') AS date, COUNT(*)
		FROM click_events
		WHERE link_id = ?
		GROUP BY date
		ORDER BY date DESC
		LIMIT 30`, linkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc domain.DailyClick
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		stats.DailyClicks = append(stats.DailyClicks, dc)
	}

	return stats, rows.Err()
}

func (r *SQLiteRepository) groupCount(ctx context.Context, query, linkID string, into map[string]int64, emptyKey string) error {
	rows, err := r.db.QueryContext(ctx, query, linkID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		if key == "" {
			key = emptyKey
		}
		into[key] = count
	}
	return rows.Err()
}
