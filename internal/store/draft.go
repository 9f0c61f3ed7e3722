package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/now"

	"github.com/pavelanni/examlog/internal/model"
)

// Outcome is the result of an upsert.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRejected Outcome = "rejected"
)

// UpsertOptions identifies the draft lineage being saved.
type UpsertOptions struct {
	// ID is the draft to update. Empty, or an id that no longer exists,
	// creates a new draft.
	ID string
	// At overrides the write timestamp.
	At time.Time
	// RemoteID binds the draft to an existing remote record.
	RemoteID string
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	ID      string   `json:"id,omitempty"`
	Outcome Outcome  `json:"outcome"`
	Missing []string `json:"missing,omitempty"`
}

// DeleteOutcome is the result of a delete.
type DeleteOutcome string

const (
	DeleteDeleted  DeleteOutcome = "deleted"
	DeleteNotFound DeleteOutcome = "not-found"
	DeleteError    DeleteOutcome = "error"
)

// ListOptions filters ListDrafts.
type ListOptions struct {
	// Day restricts the list to drafts last touched on the same local
	// calendar day.
	Day *time.Time
}

const draftColumns = `id, exam_code, exam_name, test_name, remote_id, form_data, created_at, updated_at, committed`

const touchedExpr = `COALESCE(updated_at, created_at)`

// UpsertDraft saves form as a draft. Forms without an exam code and exam name
// are rejected without writing. A successful write is followed by an
// eviction pass whose failures are logged and never returned.
func (s *Store) UpsertDraft(ctx context.Context, form model.FormData, opts UpsertOptions) (UpsertResult, error) {
	if missing := missingIdentity(form); len(missing) > 0 {
		return UpsertResult{ID: opts.ID, Outcome: OutcomeRejected, Missing: missing}, nil
	}

	data, err := json.Marshal(form)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode draft: %w", err)
	}
	at := opts.At
	if at.IsZero() {
		at = s.now()
	}

	if opts.ID != "" {
		updated, err := s.updateDraft(ctx, opts.ID, form, data, at, opts.RemoteID)
		if err != nil {
			return UpsertResult{}, err
		}
		if updated {
			s.events.Publish(EventUpdated, DraftEvent{DraftID: opts.ID})
			s.evictAfterWrite(ctx)
			return UpsertResult{ID: opts.ID, Outcome: OutcomeUpdated}, nil
		}
		slog.Info("bound draft no longer exists, creating a new one", "draft_id", opts.ID)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (id, exam_code, exam_name, test_name, remote_id, form_data, created_at, committed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		id, form.ExamCode, form.ExamName, form.TestName, opts.RemoteID, string(data), toMillis(at),
	)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("insert draft: %w", err)
	}
	slog.Debug("created draft", "draft_id", id, "exam_code", form.ExamCode)
	s.events.Publish(EventCreated, DraftEvent{DraftID: id})
	s.evictAfterWrite(ctx)
	return UpsertResult{ID: id, Outcome: OutcomeCreated}, nil
}

func (s *Store) updateDraft(ctx context.Context, id string, form model.FormData, data []byte, at time.Time, remoteID string) (bool, error) {
	unlock := s.lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET exam_code = ?, exam_name = ?, test_name = ?, remote_id = ?, form_data = ?, updated_at = ?
		 WHERE id = ?`,
		form.ExamCode, form.ExamName, form.TestName, remoteID, string(data), toMillis(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("update draft %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update draft %s: %w", id, err)
	}
	return n == 1, nil
}

func missingIdentity(form model.FormData) []string {
	var missing []string
	if form.ExamCode == "" {
		missing = append(missing, "examCode")
	}
	if form.ExamName == "" {
		missing = append(missing, "examName")
	}
	return missing
}

// GetDraft returns a draft by id, or ErrNotFound.
func (s *Store) GetDraft(ctx context.Context, id string) (model.Draft, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Draft{}, ErrNotFound
	}
	if err != nil {
		return model.Draft{}, fmt.Errorf("get draft %s: %w", id, err)
	}
	return d, nil
}

// ListDrafts returns drafts newest first by last-touched time.
func (s *Store) ListDrafts(ctx context.Context, opts ListOptions) ([]model.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	var args []any
	if opts.Day != nil {
		day := now.With(opts.Day.Local())
		query += ` WHERE ` + touchedExpr + ` BETWEEN ? AND ?`
		args = append(args, toMillis(day.BeginningOfDay()), toMillis(day.EndOfDay()))
	}
	query += ` ORDER BY ` + touchedExpr + ` DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	var drafts []model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("list drafts: %w", err)
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

// CountDrafts returns the number of stored drafts.
func (s *Store) CountDrafts(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drafts`).Scan(&count)
	return count, err
}

// DeleteDraft removes a draft at the user's request.
func (s *Store) DeleteDraft(ctx context.Context, id string) (DeleteOutcome, error) {
	unlock := s.lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return DeleteError, fmt.Errorf("delete draft %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return DeleteError, fmt.Errorf("delete draft %s: %w", id, err)
	}
	if n == 0 {
		return DeleteNotFound, nil
	}
	s.events.Publish(EventDeleted, DraftEvent{DraftID: id, Reason: ReasonUser})
	return DeleteDeleted, nil
}

// MarkCommitted flags a draft as durably stored remotely and removes it. The
// remote record is the source of truth from then on.
func (s *Store) MarkCommitted(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark committed %s: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE drafts SET committed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark committed %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark committed %s: %w", id, err)
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE id = ? AND committed = 1`, id); err != nil {
		return fmt.Errorf("remove committed %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark committed %s: %w", id, err)
	}
	s.events.Publish(EventDeleted, DraftEvent{DraftID: id, Reason: ReasonCommitted})
	return nil
}

// ClearDrafts removes every draft and returns how many were removed. An
// already empty store publishes no event.
func (s *Store) ClearDrafts(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts`)
	if err != nil {
		return 0, fmt.Errorf("clear drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear drafts: %w", err)
	}
	if n > 0 {
		s.events.Publish(EventCleared, DraftEvent{Reason: ReasonUser})
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(sc scanner) (model.Draft, error) {
	var (
		d                            model.Draft
		examCode, examName, testName string
		body                         string
		createdAt                    int64
		updatedAt                    sql.NullInt64
	)
	if err := sc.Scan(&d.ID, &examCode, &examName, &testName, &d.RemoteID, &body, &createdAt, &updatedAt, &d.Committed); err != nil {
		return model.Draft{}, err
	}
	d.CreatedAt = fromMillis(createdAt)
	if updatedAt.Valid {
		t := fromMillis(updatedAt.Int64)
		d.UpdatedAt = &t
	}
	if err := json.Unmarshal([]byte(body), &d.Form); err != nil {
		slog.Warn("draft body is corrupt, keeping identity fields only", "draft_id", d.ID, "error", err)
		d.Form = model.FormData{ExamCode: examCode, ExamName: examName, TestName: testName}
	}
	return d, nil
}
