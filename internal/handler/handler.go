// Package handler serves the JSON API over wizard sessions, stored drafts and
// mistake tables.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examlog/internal/i18n"
	"github.com/pavelanni/examlog/internal/store"
	"github.com/pavelanni/examlog/internal/wizard"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	sessions *sessions
}

// New creates a new Handler. Every wizard session it opens is configured
// with opts.
func New(s *store.Store, opts wizard.Options) *Handler {
	return &Handler{
		store: s,
		sessions: newSessions(func() *wizard.Wizard {
			return wizard.New(s, opts)
		}),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/drafts", h.handleListDrafts)
		r.Delete("/drafts", h.handleClearDrafts)
		r.Get("/drafts/events", h.handleDraftEvents)
		r.Get("/drafts/{draftID}", h.handleGetDraft)
		r.Delete("/drafts/{draftID}", h.handleDeleteDraft)

		r.Post("/wizards", h.handleCreateWizard)
		r.Route("/wizards/{sessionID}", func(r chi.Router) {
			r.Use(h.sessionMiddleware)
			r.Get("/", h.handleGetWizard)
			r.Delete("/", h.handleDeleteWizard)
			r.Patch("/fields", h.handleUpdateFields)
			r.Post("/next", h.handleNext)
			r.Post("/previous", h.handlePrevious)
			r.Post("/save", h.handleSave)
			r.Post("/submit", h.handleSubmit)
			r.Post("/reset", h.handleReset)
			r.Post("/insights", h.handleInsights)
			r.Post("/load/{draftID}", h.handleLoadDraft)
			r.Post("/sections/{section}/table", h.handleTableEdit)
		})
	})
}

type errorBody struct {
	Error    string              `json:"error"`
	Message  string              `json:"message,omitempty"`
	Messages []string            `json:"messages,omitempty"`
	Step     int                 `json:"step,omitempty"`
	Fields   []wizard.FieldError `json:"fields,omitempty"`
	Missing  []string            `json:"missing,omitempty"`
	Remote   *wizard.CommitError `json:"remote,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps an operation error to a status code and JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if ve, ok := wizard.AsValidationError(err); ok {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:    "validation",
			Step:     int(ve.Step),
			Fields:   ve.Errors,
			Messages: ve.Messages(ctx),
		})
		return
	}
	var ce *wizard.CommitError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "remote", Message: ce.Message, Remote: ce})
	case errors.Is(err, wizard.ErrNoCommitter), errors.Is(err, wizard.ErrNoSuggester):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: err.Error()})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: err.Error()})
	}
}

func writeRejected(w http.ResponseWriter, r *http.Request, res store.UpsertResult) {
	writeJSON(w, http.StatusConflict, errorBody{
		Error:   "rejected",
		Message: i18n.T(r.Context(), "DraftRejected"),
		Missing: res.Missing,
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}
