package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examlog/internal/table"
)

type tableOp struct {
	Op    string         `json:"op"`
	Row   int            `json:"row"`
	Col   int            `json:"col"`
	Value string         `json:"value"`
	Kind  table.CellKind `json:"kind"`
}

type tableResponse struct {
	Value   table.Value `json:"value"`
	Changed bool        `json:"changed"`
	CanUndo bool        `json:"canUndo"`
	CanRedo bool        `json:"canRedo"`
}

func applyTableOp(ed *table.Editor, op tableOp) (changed, ok bool) {
	switch op.Op {
	case "addRow":
		return ed.AddRow(), true
	case "addColumn":
		return ed.AddColumn(), true
	case "deleteRow":
		return ed.DeleteRow(op.Row), true
	case "deleteColumn":
		return ed.DeleteColumn(op.Col), true
	case "updateHeader":
		return ed.UpdateHeader(op.Col, op.Value), true
	case "updateCell":
		return ed.UpdateCell(op.Row, op.Col, op.Value), true
	case "setKind":
		return ed.SetColumnKind(op.Col, op.Kind), true
	case "undo":
		return ed.Undo(), true
	case "redo":
		return ed.Redo(), true
	case "get":
		return false, true
	default:
		return false, false
	}
}

func (h *Handler) handleTableEdit(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r)
	section, err := strconv.Atoi(chi.URLParam(r, "section"))
	if err != nil {
		badRequest(w, "invalid section index")
		return
	}
	var op tableOp
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&op); err != nil {
		badRequest(w, "invalid table operation: "+err.Error())
		return
	}

	var (
		resp tableResponse
		ok   bool
	)
	err = s.withEditor(section, func(ed *table.Editor) {
		resp.Changed, ok = applyTableOp(ed, op)
		resp.Value = ed.Value()
		resp.CanUndo = ed.CanUndo()
		resp.CanRedo = ed.CanRedo()
	})
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
		return
	}
	if !ok {
		badRequest(w, "unknown table operation "+strconv.Quote(op.Op))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
