// Package wizard is the four-step record wizard: the in-memory step and
// field state, per-step validation gating, and the bridge to the draft store
// and to the remote commit.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/store"
)

var (
	// ErrNoCommitter is returned by Submit when no remote collaborator is
	// configured.
	ErrNoCommitter = errors.New("no remote committer configured")
	// ErrNoSuggester is returned by SuggestInsights when no suggester is
	// configured.
	ErrNoSuggester = errors.New("no insight suggester configured")
)

// DraftStore is the part of the draft repository the wizard uses.
type DraftStore interface {
	UpsertDraft(ctx context.Context, form model.FormData, opts store.UpsertOptions) (store.UpsertResult, error)
	GetDraft(ctx context.Context, id string) (model.Draft, error)
	MarkCommitted(ctx context.Context, id string) error
}

// State is a snapshot of a wizard session.
type State struct {
	Step     model.Step     `json:"step"`
	Form     model.FormData `json:"formData"`
	DraftID  string         `json:"draftId,omitempty"`
	RemoteID string         `json:"remoteId,omitempty"`
	Unsaved  bool           `json:"unsaved"`
}

// Options configures a Wizard.
type Options struct {
	Committer Committer
	Suggester InsightSuggester
	Validator *Validator
	// Scheduler and AutosaveDelay enable debounced autosave after field
	// updates. A nil Scheduler or non-positive delay disables it.
	Scheduler     Scheduler
	AutosaveDelay time.Duration
}

// Wizard is one form session. Its methods are safe to call from several
// goroutines; they are serialized, so a save or submit runs to completion
// before the next operation starts.
type Wizard struct {
	mu sync.Mutex

	drafts    DraftStore
	committer Committer
	suggester InsightSuggester
	validator *Validator
	sched     Scheduler
	delay     time.Duration

	step     model.Step
	form     model.FormData
	draftID  string
	remoteID string
	unsaved  bool

	// gen changes whenever the session is replaced, so autosaves armed
	// for an earlier session are dropped.
	gen     uint64
	// layout changes whenever the section list changes length or order, so
	// table editors bound to a section index stop writing.
	layout uint64
	pending Timer
}

// New creates a wizard at step 1 with an empty form and no bound draft.
func New(drafts DraftStore, opts Options) *Wizard {
	v := opts.Validator
	if v == nil {
		v = NewValidator(DefaultUntieredExams)
	}
	return &Wizard{
		drafts:    drafts,
		committer: opts.Committer,
		suggester: opts.Suggester,
		validator: v,
		sched:     opts.Scheduler,
		delay:     opts.AutosaveDelay,
		step:      model.FirstStep,
	}
}

// State returns a snapshot of the session.
func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		Step:     w.step,
		Form:     w.form.Clone(),
		DraftID:  w.draftID,
		RemoteID: w.remoteID,
		Unsaved:  w.unsaved,
	}
}

// Step returns the current step.
func (w *Wizard) Step() model.Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Form returns a copy of the current form.
func (w *Wizard) Form() model.FormData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.form.Clone()
}

// DraftID returns the bound draft id, or "".
func (w *Wizard) DraftID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draftID
}

// Unsaved reports whether the form changed since it was last saved or loaded.
func (w *Wizard) Unsaved() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unsaved
}

// Validate checks the current form against one step's rules.
func (w *Wizard) Validate(step model.Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.validator.Validate(step, w.form)
}

// Next advances one step if the current step validates. At the last step it
// validates and stays put. A failed check returns a *ValidationError and
// leaves the step unchanged.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.validator.Validate(w.step, w.form); err != nil {
		return err
	}
	if w.step < model.LastStep {
		w.step++
	}
	return nil
}

// Previous goes back one step without validation. It reports whether the
// step changed.
func (w *Wizard) Previous() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step <= model.FirstStep {
		return false
	}
	w.step--
	return true
}

// UpdateFields applies fn to a copy of the form and keeps the result. It
// marks the session unsaved and arms the autosave debounce.
func (w *Wizard) UpdateFields(fn func(*model.FormData)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	next := w.form.Clone()
	fn(&next)
	w.keep(next)
}

// MergeJSON merges a partial JSON object into the form. Keys that are absent
// keep their values; null clears a value.
func (w *Wizard) MergeJSON(patch []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(patch, &keys); err != nil {
		return fmt.Errorf("merge fields: %w", err)
	}
	next := w.form.Clone()
	// A sections key replaces the whole list. Decoding into the old
	// elements would leave their omitted fields behind.
	if _, ok := keys["sections"]; ok {
		next.Sections = nil
	}
	if err := json.Unmarshal(patch, &next); err != nil {
		return fmt.Errorf("merge fields: %w", err)
	}
	w.keep(next)
	return nil
}

// keep stores an edited form, marks the session unsaved and arms autosave.
func (w *Wizard) keep(next model.FormData) {
	if !sameLayout(w.form.Sections, next.Sections) {
		w.layout++
	}
	w.form = next
	w.unsaved = true
	w.armAutosave()
}

func sameLayout(a, b []model.Section) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

// SaveDraft writes the form to the draft store under the bound id. On
// success the returned id is bound to the session and the unsaved flag is
// cleared. A rejected save leaves the session untouched and lists the
// missing identity fields in the result.
func (w *Wizard) SaveDraft(ctx context.Context) (store.UpsertResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopAutosave()
	return w.saveLocked(ctx)
}

func (w *Wizard) saveLocked(ctx context.Context) (store.UpsertResult, error) {
	res, err := w.drafts.UpsertDraft(ctx, w.form, store.UpsertOptions{ID: w.draftID, RemoteID: w.remoteID})
	if err != nil {
		return res, fmt.Errorf("save draft: %w", err)
	}
	if res.Outcome == store.OutcomeRejected {
		return res, nil
	}
	w.draftID = res.ID
	w.unsaved = false
	return res, nil
}

// LoadDraft replaces the session with a stored draft, binds its id and
// returns to step 1. An unknown id returns an error wrapping
// store.ErrNotFound and leaves the session unchanged.
func (w *Wizard) LoadDraft(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, err := w.drafts.GetDraft(ctx, id)
	if err != nil {
		return fmt.Errorf("load draft %s: %w", id, err)
	}
	w.replace(d.Form, d.ID, d.RemoteID)
	return nil
}

// BeginEdit starts a session editing an existing remote record. Submitting
// it replaces that record instead of creating a new one.
func (w *Wizard) BeginEdit(remoteID string, form model.FormData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replace(form.Clone(), "", remoteID)
}

// Submit validates every step and hands the form to the remote committer.
// This is stricter than the step 4 gate, which always passes, so a form
// skipped ahead with incomplete earlier steps is never committed.
// On success the bound draft is marked committed and the session resets. On
// failure the session is unchanged and the error is returned for retry.
func (w *Wizard) Submit(ctx context.Context) (CommitResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.validator.ValidateAll(w.form); err != nil {
		return CommitResult{}, err
	}
	if w.committer == nil {
		return CommitResult{}, ErrNoCommitter
	}

	res, err := w.committer.Commit(ctx, w.form.Clone(), w.remoteID)
	if err != nil {
		slog.Warn("remote commit failed", "draft_id", w.draftID, "remote_id", w.remoteID, "error", err)
		return CommitResult{}, fmt.Errorf("submit: %w", err)
	}
	slog.Info("record committed", "remote_id", res.RemoteID, "created", res.Created, "draft_id", w.draftID)

	if w.draftID != "" {
		if err := w.drafts.MarkCommitted(ctx, w.draftID); err != nil && !errors.Is(err, store.ErrNotFound) {
			// The remote record is already the source of truth.
			slog.Error("failed to remove committed draft", "draft_id", w.draftID, "error", err)
		}
	}
	w.replace(model.FormData{}, "", "")
	return res, nil
}

// Reset discards the in-memory session. Saved drafts are kept and can be
// loaded again.
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.replace(model.FormData{}, "", "")
}

// SuggestInsights fills the insight fields the user left empty with
// suggestions. Text the user already entered is never replaced.
func (w *Wizard) SuggestInsights(ctx context.Context) (model.Insights, error) {
	if w.suggester == nil {
		return model.Insights{}, ErrNoSuggester
	}
	form := w.Form()
	ins, err := w.suggester.SuggestInsights(ctx, form)
	if err != nil {
		return model.Insights{}, fmt.Errorf("suggest insights: %w", err)
	}
	w.UpdateFields(func(f *model.FormData) {
		if f.KeyTakeaways == "" {
			f.KeyTakeaways = ins.KeyTakeaways
		}
		if f.ImprovementAreas == "" {
			f.ImprovementAreas = ins.ImprovementAreas
		}
	})
	return ins, nil
}

func (w *Wizard) replace(form model.FormData, draftID, remoteID string) {
	w.stopAutosave()
	w.gen++
	w.layout++
	w.step = model.FirstStep
	w.form = form
	w.draftID = draftID
	w.remoteID = remoteID
	w.unsaved = false
}

func (w *Wizard) armAutosave() {
	if w.sched == nil || w.delay <= 0 {
		return
	}
	w.stopAutosave()
	gen := w.gen
	w.pending = w.sched.AfterFunc(w.delay, func() { w.autosave(gen) })
}

func (w *Wizard) stopAutosave() {
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
}

func (w *Wizard) autosave(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen || !w.unsaved {
		return
	}
	w.pending = nil
	res, err := w.saveLocked(context.Background())
	switch {
	case err != nil:
		slog.Warn("autosave failed", "draft_id", w.draftID, "error", err)
	case res.Outcome == store.OutcomeRejected:
		slog.Debug("autosave skipped, draft identity incomplete", "missing", res.Missing)
	default:
		slog.Debug("autosaved draft", "draft_id", res.ID, "outcome", res.Outcome)
	}
}
