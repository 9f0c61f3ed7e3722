package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examlog/internal/i18n"
	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/store"
	"github.com/pavelanni/examlog/internal/wizard"
)

const maxBodyBytes = 1 << 20

type wizardResponse struct {
	ID string `json:"id"`
	wizard.State
}

func stateOf(s *session) wizardResponse {
	return wizardResponse{ID: s.id, State: s.wizard.State()}
}

func (h *Handler) handleCreateWizard(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.create()
	writeJSON(w, http.StatusCreated, stateOf(s))
}

func (h *Handler) handleGetWizard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateOf(sessionFrom(r)))
}

func (h *Handler) handleDeleteWizard(w http.ResponseWriter, r *http.Request) {
	h.sessions.remove(sessionFrom(r).id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateFields(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "read body: "+err.Error())
		return
	}
	if err := s.wizard.MergeJSON(body); err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stateOf(s))
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := s.wizard.Next(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(s))
}

func (h *Handler) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	s.wizard.Previous()
	writeJSON(w, http.StatusOK, stateOf(s))
}

type saveResponse struct {
	store.UpsertResult
	Message string `json:"message"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	res, err := s.wizard.SaveDraft(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Outcome == store.OutcomeRejected {
		writeRejected(w, r, res)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{UpsertResult: res, Message: i18n.T(r.Context(), "DraftSaved")})
}

type submitResponse struct {
	wizard.CommitResult
	State wizardResponse `json:"state"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	res, err := s.wizard.Submit(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.dropEditors()
	writeJSON(w, http.StatusOK, submitResponse{CommitResult: res, State: stateOf(s)})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	s.wizard.Reset()
	s.dropEditors()
	writeJSON(w, http.StatusOK, stateOf(s))
}

func (h *Handler) handleLoadDraft(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	if err := s.wizard.LoadDraft(r.Context(), chi.URLParam(r, "draftID")); err != nil {
		writeError(w, r, err)
		return
	}
	s.dropEditors()
	writeJSON(w, http.StatusOK, stateOf(s))
}

type insightsResponse struct {
	Suggested model.Insights `json:"suggested"`
	State     wizardResponse `json:"state"`
}

func (h *Handler) handleInsights(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	ins, err := s.wizard.SuggestInsights(r.Context())
	if errors.Is(err, wizard.ErrNoSuggester) {
		writeError(w, r, err)
		return
	}
	if err != nil {
		slog.Warn("insight suggestion failed", "session_id", s.id, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "suggester", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, insightsResponse{Suggested: ins, State: stateOf(s)})
}
