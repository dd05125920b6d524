package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite" {
		// one writer keeps the conditional click increment and the
		// read-then-write mutations serialized
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers, for health checks.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS links (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		slug TEXT NOT NULL,
		destination_url TEXT NOT NULL,
		owner_id TEXT,
		password_hash TEXT NOT NULL DEFAULT '',
		expires_at INTEGER,
		click_limit INTEGER,
		click_count INTEGER NOT NULL DEFAULT 0,
		geo_targets TEXT,
		device_targets TEXT,
		deep_links TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_links_active_key ON links(domain, slug) WHERE is_archived = 0;
	CREATE INDEX IF NOT EXISTS idx_links_expires_at ON links(expires_at) WHERE expires_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS ab_tests (
		id TEXT PRIMARY KEY,
		link_id TEXT NOT NULL,
		status TEXT NOT NULL,
		variants TEXT NOT NULL,
		winner_variant_id TEXT NOT NULL DEFAULT '',
		started_at INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY(link_id) REFERENCES links(id)
	);
	CREATE INDEX IF NOT EXISTS idx_ab_tests_link_id ON ab_tests(link_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ab_tests_active_link ON ab_tests(link_id) WHERE status != 'completed';

	CREATE TABLE IF NOT EXISTS click_events (
		id TEXT PRIMARY KEY,
		link_id TEXT NOT NULL,
		variant_id TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_click_events_link_id ON click_events(link_id, ts);
	`
	_, err := db.Exec(query)
	return err
}

const linkColumns = `id, domain, slug, destination_url, owner_id, password_hash, expires_at, click_limit,
	click_count, geo_targets, device_targets, deep_links, is_archived, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(s scanner) (*domain.LinkRecord, error) {
	var (
		l                      domain.LinkRecord
		ownerID                sql.NullString
		expiresAt, clickLimit  sql.NullInt64
		geo, device, deepLinks sql.NullString
		archived               int
		createdAt, updatedAt   int64
	)
	err := s.Scan(&l.ID, &l.Domain, &l.Slug, &l.DestinationURL, &ownerID, &l.PasswordHash, &expiresAt,
		&clickLimit, &l.ClickCount, &geo, &device, &deepLinks, &archived, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		l.OwnerID = &ownerID.String
	}
	if expiresAt.Valid {
		t := fromNanos(expiresAt.Int64)
		l.ExpiresAt = &t
	}
	if clickLimit.Valid {
		n := clickLimit.Int64
		l.ClickLimit = &n
	}
	if err := decodeJSON(geo, &l.GeoTargets); err != nil {
		return nil, fmt.Errorf("link %s geo_targets: %w", l.ID, err)
	}
	if err := decodeJSON(device, &l.DeviceTargets); err != nil {
		return nil, fmt.Errorf("link %s device_targets: %w", l.ID, err)
	}
	if err := decodeJSON(deepLinks, &l.DeepLinks); err != nil {
		return nil, fmt.Errorf("link %s deep_links: %w", l.ID, err)
	}
	l.IsArchived = archived != 0
	l.CreatedAt = fromNanos(createdAt)
	l.UpdatedAt = fromNanos(updatedAt)
	return &l, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, link *domain.LinkRecord) error {
	link.CreatedAt = link.CreatedAt.UTC()
	link.UpdatedAt = link.UpdatedAt.UTC()

	args, err := linkArgs(link)
	if err != nil {
		return err
	}
	query := `INSERT INTO links (` + linkColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return mapConstraint(err)
	}
	return nil
}

func (r *SQLiteRepository) GetByDomainSlug(ctx context.Context, domainName, slug string) (*domain.LinkRecord, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE domain = ? AND slug = ? AND is_archived = 0`
	return r.getOne(ctx, r.db, query, domainName, slug)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*domain.LinkRecord, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = ?`
	return r.getOne(ctx, r.db, query, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) getOne(ctx context.Context, q querier, query string, args ...any) (*domain.LinkRecord, error) {
	link, err := scanLink(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Update overwrites the writable fields of an active link. The click count is
// owned by the counter and is never written here. updated_at always moves
// forward, so versions follow commit order.
func (r *SQLiteRepository) Update(ctx context.Context, link *domain.LinkRecord) (*domain.LinkRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	before, err := r.getOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, link.ID)
	if err != nil {
		return nil, err
	}
	if before == nil || before.IsArchived {
		return nil, domain.ErrNotFound
	}

	link.UpdatedAt = r.nextVersion(before.UpdatedAt)
	link.CreatedAt = before.CreatedAt
	link.ClickCount = before.ClickCount
	link.IsArchived = false

	args, err := linkArgs(link)
	if err != nil {
		return nil, err
	}
	// args without id and click_count, then id for the WHERE clause
	query := `UPDATE links SET domain = ?, slug = ?, destination_url = ?, owner_id = ?, password_hash = ?,
		expires_at = ?, click_limit = ?, geo_targets = ?, device_targets = ?, deep_links = ?,
		is_archived = ?, created_at = ?, updated_at = ? WHERE id = ?`
	updateArgs := append(append(append([]any{}, args[1:8]...), args[9:]...), link.ID)
	if _, err := tx.ExecContext(ctx, query, updateArgs...); err != nil {
		return nil, mapConstraint(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return before, nil
}

func (r *SQLiteRepository) Touch(ctx context.Context, id string) (*domain.LinkRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	link, err := r.getOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}
	link.UpdatedAt = r.nextVersion(link.UpdatedAt)
	if _, err := tx.ExecContext(ctx, `UPDATE links SET updated_at = ? WHERE id = ?`, toNanos(link.UpdatedAt), id); err != nil {
		return nil, err
	}
	return link, tx.Commit()
}

// Archive is idempotent: archiving an archived link returns it unchanged.
func (r *SQLiteRepository) Archive(ctx context.Context, id string) (*domain.LinkRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	link, err := r.getOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}
	if link.IsArchived {
		return link, nil
	}

	link.IsArchived = true
	link.UpdatedAt = r.nextVersion(link.UpdatedAt)
	_, err = tx.ExecContext(ctx, `UPDATE links SET is_archived = 1, updated_at = ? WHERE id = ?`, toNanos(link.UpdatedAt), id)
	if err != nil {
		return nil, err
	}
	return link, tx.Commit()
}

// Delete removes the link with its AB tests and click events. The returned
// record carries a fresh updated_at so the cache tombstone outranks every
// projection written before.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) (*domain.LinkRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	link, err := r.getOne(ctx, tx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, domain.ErrNotFound
	}

	for _, q := range []string{
		`DELETE FROM ab_tests WHERE link_id = ?`,
		`DELETE FROM click_events WHERE link_id = ?`,
		`DELETE FROM links WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	link.UpdatedAt = r.nextVersion(link.UpdatedAt)
	return link, nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit, offset int, filters map[string]interface{}) ([]domain.LinkRecord, error) {
	where, args := listFilter(filters)
	query := `SELECT ` + linkColumns + ` FROM links` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return r.queryLinks(ctx, query, args...)
}

func (r *SQLiteRepository) Count(ctx context.Context, filters map[string]interface{}) (int64, error) {
	where, args := listFilter(filters)
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`+where, args...).Scan(&count)
	return count, err
}

func listFilter(filters map[string]interface{}) (string, []interface{}) {
	conds := []string{}
	args := []interface{}{}

	if archived, ok := filters["archived"].(bool); !ok || !archived {
		conds = append(conds, "is_archived = 0")
	}
	if search, ok := filters["search"].(string); ok && search != "" {
		conds = append(conds, "(slug LIKE ? OR domain LIKE ? OR destination_url LIKE ?)")
		like := "%" + search + "%"
		args = append(args, like, like, like)
	}
	if d, ok := filters["domain"].(string); ok && d != "" {
		conds = append(conds, "domain = ?")
		args = append(args, d)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Dump returns every link, archived ones included. For migration.
func (r *SQLiteRepository) Dump(ctx context.Context) ([]domain.LinkRecord, error) {
	return r.queryLinks(ctx, `SELECT `+linkColumns+` FROM links ORDER BY created_at`)
}

// ListExpiredBetween returns active links whose expiry falls in (from, to].
func (r *SQLiteRepository) ListExpiredBetween(ctx context.Context, from, to time.Time) ([]domain.LinkRecord, error) {
	query := `SELECT ` + linkColumns + ` FROM links
		WHERE is_archived = 0 AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at`
	return r.queryLinks(ctx, query, toNanos(from), toNanos(to))
}

func (r *SQLiteRepository) queryLinks(ctx context.Context, query string, args ...any) ([]domain.LinkRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.LinkRecord
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

// --- Click counter ---

func (r *SQLiteRepository) ClickCount(ctx context.Context, linkID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT click_count FROM links WHERE id = ?`, linkID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return n, err
}

func (r *SQLiteRepository) IncrementClickCount(ctx context.Context, linkID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE links SET click_count = click_count + 1 WHERE id = ? RETURNING click_count`, linkID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return n, err
}

// TryIncrementClickCount increments only while click_count < limit. The
// comparison and the write are one statement, so concurrent callers can
// never push the count past limit.
func (r *SQLiteRepository) TryIncrementClickCount(ctx context.Context, linkID string, limit int64) (int64, bool, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`UPDATE links SET click_count = click_count + 1 WHERE id = ? AND click_count < ? RETURNING click_count`,
		linkID, limit).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (r *SQLiteRepository) nextVersion(prev time.Time) time.Time {
	now := r.now().UTC()
	if now.After(prev) {
		return fromNanos(now.UnixNano())
	}
	return prev.Add(time.Nanosecond)
}

func linkArgs(l *domain.LinkRecord) ([]any, error) {
	geo, err := encodeJSON(len(l.GeoTargets) > 0, l.GeoTargets)
	if err != nil {
		return nil, err
	}
	device, err := encodeJSON(len(l.DeviceTargets) > 0, l.DeviceTargets)
	if err != nil {
		return nil, err
	}
	deep, err := encodeJSON(!l.DeepLinks.IsZero(), l.DeepLinks)
	if err != nil {
		return nil, err
	}

	var ownerID, expiresAt, clickLimit any
	if l.OwnerID != nil {
		ownerID = *l.OwnerID
	}
	if l.ExpiresAt != nil {
		expiresAt = toNanos(*l.ExpiresAt)
	}
	if l.ClickLimit != nil {
		clickLimit = *l.ClickLimit
	}
	archived := 0
	if l.IsArchived {
		archived = 1
	}

	return []any{
		l.ID, l.Domain, l.Slug, l.DestinationURL, ownerID, l.PasswordHash, expiresAt, clickLimit,
		l.ClickCount, geo, device, deep, archived, toNanos(l.CreatedAt), toNanos(l.UpdatedAt),
	}, nil
}

func encodeJSON(present bool, v any) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// mapConstraint translates unique index violations into domain errors. The
// driver names the violated columns after the colon.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") && !strings.Contains(msg, "PRIMARY KEY constraint failed") {
		return err
	}
	switch {
	case strings.Contains(msg, "links.domain, links.slug"):
		return domain.ErrSlugTaken
	case strings.Contains(msg, "links.id"):
		return fmt.Errorf("%w: %v", domain.ErrLinkExists, err)
	case strings.Contains(msg, "ab_tests.link_id"):
		return domain.ErrTestActive
	}
	return err
}

// Ensure interface compliance
var (
	_ ports.LinkStore    = (*SQLiteRepository)(nil)
	_ ports.ClickCounter = (*SQLiteRepository)(nil)
	_ ports.ABTestStore  = (*SQLiteRepository)(nil)
	_ ports.ClickSink    = (*SQLiteRepository)(nil)
	_ ports.ClickStats   = (*SQLiteRepository)(nil)
)
