package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examlog/internal/i18n"
	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/store"
	"github.com/pavelanni/examlog/internal/table"
	"github.com/pavelanni/examlog/internal/wizard"
)

type stubCommitter struct {
	err   error
	calls int
}

func (c *stubCommitter) Commit(context.Context, model.FormData, string) (wizard.CommitResult, error) {
	c.calls++
	if c.err != nil {
		return wizard.CommitResult{}, c.err
	}
	return wizard.CommitResult{RemoteID: "rec-1", Created: true}, nil
}

type testServer struct {
	*httptest.Server
	store *store.Store
}

func newTestServer(t *testing.T, c wizard.Committer) *testServer {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, wizard.Options{Committer: c})
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: s}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (ts *testServer) newWizard(t *testing.T) string {
	t.Helper()
	var st wizardResponse
	if code := ts.do(t, http.MethodPost, "/api/wizards", nil, &st); code != http.StatusCreated {
		t.Fatalf("create wizard: status %d", code)
	}
	if st.ID == "" || st.Step != model.StepIdentity {
		t.Fatalf("unexpected new wizard %+v", st)
	}
	return st.ID
}

func completeFields() map[string]any {
	return map[string]any{
		"testName": "Mock 1", "testDate": "2026-03-01",
		"examCode": "gate", "examName": "GATE", "testPlatform": "Made Easy",
		"totalQuestions": 65, "correctAnswers": 40, "wrongAnswers": 10,
		"totalMarks": 100, "timeAllotted": 180, "timeSpent": 175,
		"sections": []map[string]any{{
			"name": "Aptitude", "totalQuestions": 10, "attemptedQuestions": 9,
			"correctAnswers": 7, "wrongAnswers": 2, "skippedQuestions": 1,
		}},
	}
}

func TestSaveAndUpdateDraft(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)

	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", map[string]string{"examCode": "x", "examName": "X"}, nil)
	var first saveResponse
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/save", nil, &first); code != http.StatusOK {
		t.Fatalf("save: status %d", code)
	}
	if first.Outcome != store.OutcomeCreated || first.Message != "Draft saved" {
		t.Fatalf("unexpected save response %+v", first)
	}

	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", map[string]string{"testName": "Mock 1"}, nil)
	var second saveResponse
	ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/save", nil, &second)
	if second.Outcome != store.OutcomeUpdated || second.ID != first.ID {
		t.Fatalf("expected update of %s, got %+v", first.ID, second)
	}

	var d model.Draft
	if code := ts.do(t, http.MethodGet, "/api/drafts/"+first.ID, nil, &d); code != http.StatusOK {
		t.Fatalf("get draft: status %d", code)
	}
	if d.Form.TestName != "Mock 1" {
		t.Errorf("expected test name 'Mock 1', got %q", d.Form.TestName)
	}

	var list draftList
	ts.do(t, http.MethodGet, "/api/drafts", nil, &list)
	if list.Count != 1 || list.Summary != "1 draft" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestSaveRejected(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)

	var body errorBody
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/save", nil, &body); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	if body.Error != "rejected" || len(body.Missing) != 2 {
		t.Errorf("unexpected body %+v", body)
	}

	var list draftList
	ts.do(t, http.MethodGet, "/api/drafts", nil, &list)
	if list.Count != 0 || list.Drafts == nil {
		t.Errorf("expected an empty list, got %+v", list)
	}
}

func TestNextValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)

	var body errorBody
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/next", nil, &body); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if body.Step != 1 || len(body.Messages) == 0 || body.Messages[0] != "Test name is required" {
		t.Errorf("unexpected body %+v", body)
	}

	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", completeFields(), nil)
	var st wizardResponse
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/next", nil, &st); code != http.StatusOK {
		t.Fatalf("next: status %d", code)
	}
	if st.Step != model.StepPerformance {
		t.Errorf("expected step 2, got %d", st.Step)
	}
	ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/previous", nil, &st)
	if st.Step != model.StepIdentity {
		t.Errorf("expected step 1, got %d", st.Step)
	}
}

func TestSubmitRemovesDraft(t *testing.T) {
	c := &stubCommitter{}
	ts := newTestServer(t, c)
	sid := ts.newWizard(t)
	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", completeFields(), nil)
	var saved saveResponse
	ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/save", nil, &saved)

	var res submitResponse
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/submit", nil, &res); code != http.StatusOK {
		t.Fatalf("submit: status %d", code)
	}
	if res.RemoteID != "rec-1" || res.State.DraftID != "" || res.State.Form.ExamCode != "" {
		t.Errorf("unexpected submit response %+v", res)
	}
	if code := ts.do(t, http.MethodGet, "/api/drafts/"+saved.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected committed draft to be gone, got %d", code)
	}
}

func TestSubmitRemoteFailure(t *testing.T) {
	c := &stubCommitter{err: &wizard.CommitError{Kind: wizard.FailureServer, Status: 503, Message: "maintenance"}}
	ts := newTestServer(t, c)
	sid := ts.newWizard(t)
	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", completeFields(), nil)

	var body errorBody
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/submit", nil, &body); code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", code)
	}
	if body.Remote == nil || body.Remote.Kind != wizard.FailureServer {
		t.Errorf("unexpected body %+v", body)
	}

	var st wizardResponse
	ts.do(t, http.MethodGet, "/api/wizards/"+sid, nil, &st)
	if st.Form.ExamCode != "gate" || !st.Unsaved {
		t.Errorf("state lost after failed submit: %+v", st)
	}
}

func TestSubmitWithoutCommitter(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)
	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", completeFields(), nil)
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/submit", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func TestLoadDraft(t *testing.T) {
	ts := newTestServer(t, nil)
	res, err := ts.store.UpsertDraft(context.Background(), model.FormData{ExamCode: "cat", ExamName: "CAT"}, store.UpsertOptions{})
	if err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}
	sid := ts.newWizard(t)

	var st wizardResponse
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/load/"+res.ID, nil, &st); code != http.StatusOK {
		t.Fatalf("load: status %d", code)
	}
	if st.DraftID != res.ID || st.Form.ExamName != "CAT" {
		t.Errorf("unexpected state %+v", st)
	}
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/load/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestTableEditing(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)
	ts.do(t, http.MethodPatch, "/api/wizards/"+sid+"/fields", completeFields(), nil)
	path := "/api/wizards/" + sid + "/sections/0/table"

	var tr tableResponse
	for _, op := range []tableOp{
		{Op: "addColumn"},
		{Op: "addRow"},
		{Op: "updateHeader", Col: 0, Value: "Question"},
		{Op: "updateCell", Row: 0, Col: 0, Value: "Q5"},
	} {
		if code := ts.do(t, http.MethodPost, path, op, &tr); code != http.StatusOK {
			t.Fatalf("%s: status %d", op.Op, code)
		}
		if !tr.Changed {
			t.Errorf("%s: expected a change", op.Op)
		}
	}

	var st wizardResponse
	ts.do(t, http.MethodGet, "/api/wizards/"+sid, nil, &st)
	got := table.Decode(st.Form.Sections[0].Mistakes)
	if len(got.Rows) != 1 || got.Headers[0] != "Question" || got.Rows[0].Cells[0].Value != "Q5" {
		t.Fatalf("mistakes not written back: %+v", got)
	}

	ts.do(t, http.MethodPost, path, tableOp{Op: "undo"}, &tr)
	if !tr.Changed || !tr.CanRedo || tr.Value.Rows[0].Cells[0].Value != "" {
		t.Errorf("undo did not restore the cell: %+v", tr)
	}

	if code := ts.do(t, http.MethodPost, path, tableOp{Op: "explode"}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown op, got %d", code)
	}
	if code := ts.do(t, http.MethodPost, "/api/wizards/"+sid+"/sections/4/table", tableOp{Op: "addRow"}, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for missing section, got %d", code)
	}
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown session", http.MethodGet, "/api/wizards/nope", nil, http.StatusNotFound},
		{"bad date filter", http.MethodGet, "/api/drafts?date=yesterday", nil, http.StatusBadRequest},
		{"delete missing draft", http.MethodDelete, "/api/drafts/nope", nil, http.StatusNotFound},
		{"malformed fields", http.MethodPatch, "/api/wizards/" + sid + "/fields", `{"totalQuestions":"many"}`, http.StatusBadRequest},
		{"bad section index", http.MethodPost, "/api/wizards/" + sid + "/sections/x/table", `{"op":"addRow"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ts.do(t, tt.method, tt.path, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeleteWizardSession(t *testing.T) {
	ts := newTestServer(t, nil)
	sid := ts.newWizard(t)
	if code := ts.do(t, http.MethodDelete, "/api/wizards/"+sid, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	if code := ts.do(t, http.MethodGet, "/api/wizards/"+sid, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", code)
	}
}

func TestDraftEventsStream(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/drafts/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	// The connected comment is flushed once the subscription exists.
	if !sc.Scan() || !strings.HasPrefix(sc.Text(), ": connected") {
		t.Fatalf("expected connected comment, got %q", sc.Text())
	}

	res, err := ts.store.UpsertDraft(ctx, model.FormData{ExamCode: "gate", ExamName: "GATE"}, store.UpsertOptions{})
	if err != nil {
		t.Fatalf("UpsertDraft: %v", err)
	}

	var lines []string
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
		if len(lines) == 2 {
			break
		}
	}
	if len(lines) != 2 || lines[0] != "event: created" || !strings.Contains(lines[1], res.ID) {
		t.Fatalf("unexpected event lines %q", lines)
	}
}
