package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/examlog/internal/table"
	"github.com/pavelanni/examlog/internal/wizard"
)

// session is one open wizard plus the mistake-table editors opened on it.
type session struct {
	id     string
	wizard *wizard.Wizard

	mu      sync.Mutex
	editors map[int]openEditor
}

type openEditor struct {
	editor *table.Editor
	layout uint64
}

// withEditor runs fn on the open editor for a section, opening one if
// needed. An editor whose value no longer matches the section, or that was
// opened on an earlier section list, is reopened.
// Calls on one session are serialized.
func (s *session) withEditor(section int, fn func(*table.Editor)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ed, err := s.editorLocked(section)
	if err != nil {
		return err
	}
	fn(ed)
	return nil
}

func (s *session) editorLocked(section int) (*table.Editor, error) {
	layout := s.wizard.Layout()
	form := s.wizard.Form()
	if open, ok := s.editors[section]; ok {
		if open.layout == layout && section < len(form.Sections) &&
			table.Encode(open.editor.Value()) == form.Sections[section].Mistakes {
			return open.editor, nil
		}
		delete(s.editors, section)
	}
	ed, err := s.wizard.TableEditor(section)
	if err != nil {
		return nil, err
	}
	s.editors[section] = openEditor{editor: ed, layout: layout}
	return ed, nil
}

// dropEditors forgets every open editor. Called whenever the wizard's
// session is replaced.
func (s *session) dropEditors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.editors)
}

type sessions struct {
	newWizard func() *wizard.Wizard

	mu   sync.RWMutex
	byID map[string]*session
}

func newSessions(newWizard func() *wizard.Wizard) *sessions {
	return &sessions{newWizard: newWizard, byID: make(map[string]*session)}
}

func (ss *sessions) create() *session {
	s := &session{
		id:      uuid.NewString(),
		wizard:  ss.newWizard(),
		editors: make(map[int]openEditor),
	}
	ss.mu.Lock()
	ss.byID[s.id] = s
	ss.mu.Unlock()
	return s
}

func (ss *sessions) get(id string) (*session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.byID[id]
	return s, ok
}

func (ss *sessions) remove(id string) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.byID[id]
	if ok {
		// Stops any pending autosave.
		s.wizard.Reset()
		delete(ss.byID, id)
	}
	return ok
}

type sessionKey struct{}

func (h *Handler) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.sessions.get(chi.URLParam(r, "sessionID"))
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "wizard session not found"})
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session {
	s, _ := r.Context().Value(sessionKey{}).(*session)
	return s
}
