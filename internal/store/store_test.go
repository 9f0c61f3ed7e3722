package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pavelanni/examlog/internal/model"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testForm(code, name string) model.FormData {
	return model.FormData{ExamCode: code, ExamName: name}
}

func mustUpsert(t *testing.T, s *Store, form model.FormData, opts UpsertOptions) UpsertResult {
	t.Helper()
	res, err := s.UpsertDraft(context.Background(), form, opts)
	if err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}
	return res
}

func TestUpsertCreateThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustUpsert(t, s, testForm("jee-main", "JEE Main"), UpsertOptions{})
	if first.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %q", first.Outcome)
	}
	if first.ID == "" {
		t.Fatal("expected a generated id")
	}

	second := testForm("jee-main", "JEE Main")
	second.TestName = "Mock 2"
	res := mustUpsert(t, s, second, UpsertOptions{ID: first.ID, At: testNow.Add(time.Minute)})
	if res.Outcome != OutcomeUpdated || res.ID != first.ID {
		t.Fatalf("expected update of %s, got %+v", first.ID, res)
	}

	d, err := s.GetDraft(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.Form.TestName != "Mock 2" {
		t.Errorf("expected test name 'Mock 2', got %q", d.Form.TestName)
	}
	if !d.CreatedAt.Equal(testNow) {
		t.Errorf("created_at changed: %v", d.CreatedAt)
	}
	if d.UpdatedAt == nil || !d.UpdatedAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("unexpected updated_at: %v", d.UpdatedAt)
	}
	if d.Committed {
		t.Error("new draft should not be committed")
	}

	list, err := s.ListDrafts(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(list))
	}
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name    string
		form    model.FormData
		missing []string
	}{
		{"empty", model.FormData{}, []string{"examCode", "examName"}},
		{"no name", model.FormData{ExamCode: "neet-ug"}, []string{"examName"}},
		{"no code", model.FormData{ExamName: "NEET", TestName: "Mock"}, []string{"examCode"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustUpsert(t, s, tt.form, UpsertOptions{})
			if res.Outcome != OutcomeRejected {
				t.Fatalf("expected rejected, got %q", res.Outcome)
			}
			if fmt.Sprint(res.Missing) != fmt.Sprint(tt.missing) {
				t.Errorf("missing = %v, want %v", res.Missing, tt.missing)
			}
		})
	}

	count, err := s.CountDrafts(context.Background())
	if err != nil {
		t.Fatalf("CountDrafts: %v", err)
	}
	if count != 0 {
		t.Errorf("rejected drafts were written: %d", count)
	}
}

func TestUpsertUnknownIDCreates(t *testing.T) {
	s := newTestStore(t)
	res := mustUpsert(t, s, testForm("cat", "CAT"), UpsertOptions{ID: "gone"})
	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %q", res.Outcome)
	}
	if res.ID == "gone" {
		t.Error("expected a fresh id for an unknown lineage")
	}
}

func TestGetDraftNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDraft(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListDrafts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := mustUpsert(t, s, testForm("a", "A"), UpsertOptions{At: testNow.Add(-time.Hour)})
	yesterday := mustUpsert(t, s, testForm("b", "B"), UpsertOptions{At: testNow.Add(-24 * time.Hour)})
	newest := mustUpsert(t, s, testForm("c", "C"), UpsertOptions{At: testNow})

	list, err := s.ListDrafts(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	want := []string{newest.ID, older.ID, yesterday.ID}
	if len(list) != len(want) {
		t.Fatalf("expected %d drafts, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, list[i].ID, id)
		}
	}

	// Updating the yesterday draft moves it to the front.
	mustUpsert(t, s, testForm("b", "B"), UpsertOptions{ID: yesterday.ID, At: testNow.Add(time.Minute)})
	list, _ = s.ListDrafts(ctx, ListOptions{})
	if list[0].ID != yesterday.ID {
		t.Errorf("expected updated draft first, got %s", list[0].ID)
	}

	day := testNow.Add(-24 * time.Hour)
	list, err = s.ListDrafts(ctx, ListOptions{Day: &day})
	if err != nil {
		t.Fatalf("ListDrafts with day: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no drafts touched yesterday, got %d", len(list))
	}

	today := testNow
	list, _ = s.ListDrafts(ctx, ListOptions{Day: &today})
	if len(list) != 3 {
		t.Errorf("expected 3 drafts touched today, got %d", len(list))
	}
}

func TestDeleteDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})

	out, err := s.DeleteDraft(ctx, res.ID)
	if err != nil || out != DeleteDeleted {
		t.Fatalf("DeleteDraft = %q, %v", out, err)
	}
	out, err = s.DeleteDraft(ctx, res.ID)
	if err != nil || out != DeleteNotFound {
		t.Fatalf("second DeleteDraft = %q, %v", out, err)
	}
}

func TestMarkCommittedRemovesDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})

	if err := s.MarkCommitted(ctx, res.ID); err != nil {
		t.Fatalf("MarkCommitted: %v", err)
	}
	if _, err := s.GetDraft(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected committed draft to be gone, got %v", err)
	}
	if err := s.MarkCommitted(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second MarkCommitted, got %v", err)
	}
}

func TestClearDrafts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})
	}
	n, err := s.ClearDrafts(ctx)
	if err != nil {
		t.Fatalf("ClearDrafts: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 removed, got %d", n)
	}
	count, _ := s.CountDrafts(ctx)
	if count != 0 {
		t.Errorf("expected empty store, got %d", count)
	}
}

func TestClearEmptyStorePublishesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Subscribe(ctx)

	n, err := s.ClearDrafts(ctx)
	if err != nil {
		t.Fatalf("ClearDrafts: %v", err)
	}
	if n != 0 || len(events) != 0 {
		t.Errorf("expected no removals and no events, got %d removed and %d events", n, len(events))
	}

	mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})
	<-events
	if _, err := s.ClearDrafts(ctx); err != nil {
		t.Fatalf("ClearDrafts: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one cleared event, got %d", len(events))
	}
	if ev := <-events; ev.Type != EventCleared {
		t.Errorf("expected %s, got %s", EventCleared, ev.Type)
	}
}

func TestEvictCountCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 12; i++ {
		at := testNow.Add(time.Duration(i-12) * time.Minute)
		ids = append(ids, mustUpsert(t, s, testForm("a", fmt.Sprintf("A%d", i)), UpsertOptions{At: at}).ID)
	}
	if _, err := s.Evict(ctx); err != nil {
		t.Fatalf("Evict: %v", err)
	}

	list, err := s.ListDrafts(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if len(list) != 10 {
		t.Fatalf("expected 10 drafts, got %d", len(list))
	}
	for i, d := range list {
		if want := ids[11-i]; d.ID != want {
			t.Errorf("position %d: got %s, want %s", i, d.ID, want)
		}
	}
	for _, gone := range ids[:2] {
		if _, err := s.GetDraft(ctx, gone); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected %s evicted, got %v", gone, err)
		}
	}
}

func TestEvictAgeCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := mustUpsert(t, s, testForm("a", "A"), UpsertOptions{At: testNow.Add(-11 * 24 * time.Hour)})
	fresh := mustUpsert(t, s, testForm("b", "B"), UpsertOptions{At: testNow.Add(-24 * time.Hour)})

	if _, err := s.Evict(ctx); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	list, _ := s.ListDrafts(ctx, ListOptions{})
	if len(list) != 1 || list[0].ID != fresh.ID {
		t.Fatalf("expected only %s to remain, got %+v", fresh.ID, list)
	}
	if _, err := s.GetDraft(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected stale draft evicted, got %v", err)
	}
}

func TestEvictRunsOnEveryWrite(t *testing.T) {
	s := newTestStore(t, WithEvictionPolicy(EvictionPolicy{MaxDrafts: 2}))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustUpsert(t, s, testForm("a", "A"), UpsertOptions{At: testNow.Add(time.Duration(i) * time.Second)})
	}
	count, _ := s.CountDrafts(ctx)
	if count != 2 {
		t.Errorf("expected 2 drafts after writes, got %d", count)
	}
	total, err := s.EvictedTotal()
	if err != nil {
		t.Fatalf("EvictedTotal: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 evictions recorded, got %d", total)
	}
	last, err := s.LastEvictedAt()
	if err != nil {
		t.Fatalf("LastEvictedAt: %v", err)
	}
	if !last.Equal(testNow) {
		t.Errorf("LastEvictedAt = %v, want %v", last, testNow)
	}
}

func TestEvictDisabled(t *testing.T) {
	s := newTestStore(t, WithEvictionPolicy(EvictionPolicy{}))
	for i := 0; i < 12; i++ {
		mustUpsert(t, s, testForm("a", "A"), UpsertOptions{At: testNow.Add(-30 * 24 * time.Hour)})
	}
	count, _ := s.CountDrafts(context.Background())
	if count != 12 {
		t.Errorf("expected all 12 drafts kept, got %d", count)
	}
}

func TestCorruptDraftBodyFallsBack(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.Exec(
		`INSERT INTO drafts (id, exam_code, exam_name, test_name, form_data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"broken", "gate", "GATE", "Mock 3", "{not json", toMillis(testNow),
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	d, err := s.GetDraft(context.Background(), "broken")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	want := model.FormData{ExamCode: "gate", ExamName: "GATE", TestName: "Mock 3"}
	if d.Form.ExamCode != want.ExamCode || d.Form.ExamName != want.ExamName || d.Form.TestName != want.TestName {
		t.Errorf("fallback form = %+v, want %+v", d.Form, want)
	}
}

func TestDraftEvents(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := s.Subscribe(ctx)

	res := mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})
	mustUpsert(t, s, testForm("a", "A"), UpsertOptions{ID: res.ID})
	if _, err := s.DeleteDraft(ctx, res.ID); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}

	want := []struct {
		typ    string
		reason DeleteReason
	}{
		{string(EventCreated), ""},
		{string(EventUpdated), ""},
		{string(EventDeleted), ReasonUser},
	}
	for i, w := range want {
		select {
		case ev := <-events:
			if string(ev.Type) != w.typ || ev.Payload.DraftID != res.ID || ev.Payload.Reason != w.reason {
				t.Errorf("event %d = %+v, want %s/%s", i, ev, w.typ, w.reason)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestExportDrafts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp, err := s.ExportDrafts(ctx)
	if err != nil {
		t.Fatalf("ExportDrafts: %v", err)
	}
	if exp.Count != 0 || exp.Drafts == nil {
		t.Errorf("expected empty non-nil export, got %+v", exp)
	}

	mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})
	exp, _ = s.ExportDrafts(ctx)
	if exp.Count != 1 || len(exp.Drafts) != 1 {
		t.Errorf("expected 1 exported draft, got %+v", exp)
	}
	if !exp.ExportedAt.Equal(testNow) {
		t.Errorf("ExportedAt = %v", exp.ExportedAt)
	}
}

func TestConcurrentUpdatesSameDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	res := mustUpsert(t, s, testForm("a", "A"), UpsertOptions{})

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			f := testForm("a", "A")
			f.TestName = fmt.Sprintf("Mock %d", i)
			_, err := s.UpsertDraft(ctx, f, UpsertOptions{ID: res.ID})
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("UpsertDraft: %v", err)
		}
	}
	count, _ := s.CountDrafts(ctx)
	if count != 1 {
		t.Errorf("expected a single draft, got %d", count)
	}
}
