package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

const abTestColumns = `id, link_id, status, variants, winner_variant_id, started_at, completed_at, created_at, updated_at`

func scanABTest(s scanner) (*domain.ABTest, error) {
	var (
		t                    domain.ABTest
		variants             string
		startedAt, doneAt    sql.NullInt64
		createdAt, updatedAt int64
	)
	err := s.Scan(&t.ID, &t.LinkID, &t.Status, &variants, &t.WinnerVariantID, &startedAt, &doneAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variants), &t.Variants); err != nil {
		return nil, err
	}
	t.StartedAt = nullTime(startedAt)
	t.CompletedAt = nullTime(doneAt)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	return &t, nil
}

func (r *SQLiteRepository) CreateABTest(ctx context.Context, test *domain.ABTest) error {
	variants, err := json.Marshal(test.Variants)
	if err != nil {
		return err
	}
	query := `INSERT INTO ab_tests (` + abTestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query, test.ID, test.LinkID, string(test.Status), string(variants),
		test.WinnerVariantID, nanosOrNil(test.StartedAt), nanosOrNil(test.CompletedAt),
		toNanos(test.CreatedAt), toNanos(test.UpdatedAt))
	return mapConstraint(err)
}

func (r *SQLiteRepository) GetABTest(ctx context.Context, id string) (*domain.ABTest, error) {
	return r.getABTest(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetRunningABTest(ctx context.Context, linkID string) (*domain.ABTest, error) {
	return r.getABTest(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE link_id = ? AND status = ? LIMIT 1`,
		linkID, string(domain.ABTestRunning))
}

func (r *SQLiteRepository) GetActiveABTest(ctx context.Context, linkID string) (*domain.ABTest, error) {
	return r.getABTest(ctx, `SELECT `+abTestColumns+` FROM ab_tests WHERE link_id = ? AND status != ?
		ORDER BY created_at DESC LIMIT 1`, linkID, string(domain.ABTestCompleted))
}

func (r *SQLiteRepository) getABTest(ctx context.Context, query string, args ...any) (*domain.ABTest, error) {
	t, err := scanABTest(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *SQLiteRepository) UpdateABTest(ctx context.Context, test, prev *domain.ABTest) error {
	variants, err := json.Marshal(test.Variants)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE ab_tests SET status = ?, variants = ?, winner_variant_id = ?,
		started_at = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ? AND updated_at = ?`,
		string(test.Status), string(variants), test.WinnerVariantID, nanosOrNil(test.StartedAt),
		nanosOrNil(test.CompletedAt), toNanos(test.UpdatedAt), test.ID,
		string(prev.Status), toNanos(prev.UpdatedAt))
	if err != nil {
		return mapConstraint(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := r.GetABTest(ctx, test.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrTestNotFound
	}
	return fmt.Errorf("%w: test %s changed concurrently", domain.ErrInvalidTransition, test.ID)
}

func nanosOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
