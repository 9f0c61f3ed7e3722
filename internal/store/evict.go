package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Default retention limits.
const (
	DefaultMaxDrafts   = 10
	DefaultMaxDraftAge = 10 * 24 * time.Hour
)

// EvictionPolicy bounds how many drafts are kept and for how long. A zero or
// negative limit disables that pass.
type EvictionPolicy struct {
	MaxDrafts int
	MaxAge    time.Duration
}

// DefaultEvictionPolicy keeps at most 10 drafts, none older than 10 days.
func DefaultEvictionPolicy() EvictionPolicy {
	return EvictionPolicy{MaxDrafts: DefaultMaxDrafts, MaxAge: DefaultMaxDraftAge}
}

// EvictionResult lists the drafts removed by each pass.
type EvictionResult struct {
	ByCount []string `json:"byCount,omitempty"`
	ByAge   []string `json:"byAge,omitempty"`
}

// Total returns the number of drafts removed.
func (r EvictionResult) Total() int {
	return len(r.ByCount) + len(r.ByAge)
}

// Evict enforces the eviction policy. The count pass and age pass run
// independently on every call, so a skipped run is caught up by the next.
func (s *Store) Evict(ctx context.Context) (EvictionResult, error) {
	var (
		res  EvictionResult
		errs []error
	)

	if s.policy.MaxDrafts > 0 {
		ids, err := s.selectIDs(ctx,
			`SELECT id FROM drafts ORDER BY `+touchedExpr+` DESC, rowid DESC LIMIT -1 OFFSET ?`,
			s.policy.MaxDrafts)
		if err == nil {
			res.ByCount, err = s.evictIDs(ctx, ids)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("count cap: %w", err))
		}
	}

	if s.policy.MaxAge > 0 {
		cutoff := s.now().Add(-s.policy.MaxAge)
		ids, err := s.selectIDs(ctx,
			`SELECT id FROM drafts WHERE `+touchedExpr+` < ?`,
			toMillis(cutoff))
		if err == nil {
			res.ByAge, err = s.evictIDs(ctx, ids)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("age cap: %w", err))
		}
	}

	if err := s.recordEviction(res); err != nil {
		errs = append(errs, fmt.Errorf("record eviction: %w", err))
	}
	if res.Total() > 0 {
		slog.Info("evicted drafts", "by_count", len(res.ByCount), "by_age", len(res.ByAge))
	}
	return res, errors.Join(errs...)
}

// evictAfterWrite runs the policy after a successful write. It never fails
// the write.
func (s *Store) evictAfterWrite(ctx context.Context) {
	if _, err := s.Evict(ctx); err != nil {
		slog.Warn("draft eviction failed", "error", err)
	}
}

func (s *Store) selectIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) evictIDs(ctx context.Context, ids []string) ([]string, error) {
	var removed []string
	for _, id := range ids {
		unlock := s.lock(id)
		res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
		unlock()
		if err != nil {
			return removed, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		removed = append(removed, id)
		s.events.Publish(EventDeleted, DraftEvent{DraftID: id, Reason: ReasonEvicted})
	}
	return removed, nil
}

func (s *Store) recordEviction(res EvictionResult) error {
	if err := s.SetMetadata(metaLastEvictedAt, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if res.Total() == 0 {
		return nil
	}
	total, err := s.EvictedTotal()
	if err != nil {
		return err
	}
	return s.SetMetadata(metaEvictedTotal, strconv.Itoa(total+res.Total()))
}
