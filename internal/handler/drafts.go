package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examlog/internal/i18n"
	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/store"
)

type draftList struct {
	Drafts  []model.Draft `json:"drafts"`
	Count   int           `json:"count"`
	Summary string        `json:"summary"`
}

func (h *Handler) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	var opts store.ListOptions
	if date := r.URL.Query().Get("date"); date != "" {
		day, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			badRequest(w, "date must be YYYY-MM-DD")
			return
		}
		opts.Day = &day
	}

	drafts, err := h.store.ListDrafts(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if drafts == nil {
		drafts = []model.Draft{}
	}
	writeJSON(w, http.StatusOK, draftList{
		Drafts:  drafts,
		Count:   len(drafts),
		Summary: i18n.Tp(r.Context(), "DraftsCount", len(drafts)),
	})
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDraft(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "draftID")
	outcome, err := h.store.DeleteDraft(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if outcome == store.DeleteNotFound {
		writeError(w, r, fmt.Errorf("draft %s: %w", id, store.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearDrafts(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.ClearDrafts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("cleared drafts", "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// handleDraftEvents streams draft changes as server-sent events until the
// client disconnects.
func (h *Handler) handleDraftEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events := h.store.Subscribe(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			slog.Error("encode draft event", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}
