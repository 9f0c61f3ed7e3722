package table

import (
	"strconv"

	"github.com/google/uuid"
)

// Editor edits a Value and keeps undo and redo history. Every successful
// edit pushes the previous value onto the undo stack and clears the redo
// stack. Out-of-range positions are ignored: the call returns false and the
// history is left alone.
//
// An Editor is not safe for concurrent use.
type Editor struct {
	value    Value
	undo     []Value
	redo     []Value
	maxDepth int
	newID    func() string
	onChange func(Value)
}

// Option configures an Editor.
type Option func(*Editor)

// WithOnChange registers a callback invoked with the new value after every
// state change, including undo and redo.
func WithOnChange(fn func(Value)) Option {
	return func(e *Editor) { e.onChange = fn }
}

// WithIDFunc sets the row id generator. The default is a random UUID.
func WithIDFunc(fn func() string) Option {
	return func(e *Editor) { e.newID = fn }
}

// WithMaxHistory caps the undo stack at n entries, dropping the oldest.
// Zero means unbounded.
func WithMaxHistory(n int) Option {
	return func(e *Editor) { e.maxDepth = n }
}

// NewEditor returns an editor positioned at v with empty history.
func NewEditor(v Value, opts ...Option) *Editor {
	e := &Editor{
		value: repair(v.Clone()),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Value returns a copy of the current value.
func (e *Editor) Value() Value {
	return e.value.Clone()
}

// CanUndo reports whether Undo would change the value.
func (e *Editor) CanUndo() bool { return len(e.undo) > 0 }

// CanRedo reports whether Redo would change the value.
func (e *Editor) CanRedo() bool { return len(e.redo) > 0 }

// UndoDepth returns the number of undoable edits.
func (e *Editor) UndoDepth() int { return len(e.undo) }

// RedoDepth returns the number of redoable edits.
func (e *Editor) RedoDepth() int { return len(e.redo) }

// AddRow appends a row with one empty cell per header.
func (e *Editor) AddRow() bool {
	e.edit(func(v *Value) {
		cells := make([]Cell, len(v.Headers))
		for i := range cells {
			cells[i] = Cell{Kind: v.columnKind(i)}
		}
		v.Rows = append(v.Rows, Row{ID: e.newID(), Cells: cells})
	})
	return true
}

// AddColumn appends a header with a positional default name and an empty
// cell to every row.
func (e *Editor) AddColumn() bool {
	e.edit(func(v *Value) {
		v.Headers = append(v.Headers, "Column "+strconv.Itoa(len(v.Headers)+1))
		for i := range v.Rows {
			v.Rows[i].Cells = append(v.Rows[i].Cells, Cell{Kind: KindText})
		}
	})
	return true
}

// DeleteRow removes the row at index.
func (e *Editor) DeleteRow(index int) bool {
	if index < 0 || index >= len(e.value.Rows) {
		return false
	}
	e.edit(func(v *Value) {
		v.Rows = append(v.Rows[:index], v.Rows[index+1:]...)
	})
	return true
}

// DeleteColumn removes the header at index and the matching cell of every
// row.
func (e *Editor) DeleteColumn(index int) bool {
	if index < 0 || index >= len(e.value.Headers) {
		return false
	}
	e.edit(func(v *Value) {
		v.Headers = append(v.Headers[:index], v.Headers[index+1:]...)
		for i := range v.Rows {
			cells := v.Rows[i].Cells
			v.Rows[i].Cells = append(cells[:index], cells[index+1:]...)
		}
	})
	return true
}

// UpdateHeader replaces the header text at index. Writing the text already
// there is not an edit.
func (e *Editor) UpdateHeader(index int, text string) bool {
	if index < 0 || index >= len(e.value.Headers) || e.value.Headers[index] == text {
		return false
	}
	e.edit(func(v *Value) { v.Headers[index] = text })
	return true
}

// UpdateCell replaces the value of one cell. Writing the value already there
// is not an edit.
func (e *Editor) UpdateCell(row, col int, text string) bool {
	if row < 0 || row >= len(e.value.Rows) {
		return false
	}
	cells := e.value.Rows[row].Cells
	if col < 0 || col >= len(cells) || cells[col].Value == text {
		return false
	}
	e.edit(func(v *Value) { v.Rows[row].Cells[col].Value = text })
	return true
}

// SetColumnKind changes the kind of every cell in column index. It reports
// false, and records nothing, when no cell's kind would change.
func (e *Editor) SetColumnKind(index int, kind CellKind) bool {
	if index < 0 || index >= len(e.value.Headers) || !kind.Valid() {
		return false
	}
	changes := false
	for _, r := range e.value.Rows {
		if r.Cells[index].Kind != kind {
			changes = true
			break
		}
	}
	if !changes {
		return false
	}
	e.edit(func(v *Value) {
		for i := range v.Rows {
			v.Rows[i].Cells[index].Kind = kind
		}
	})
	return true
}

// Undo restores the value before the most recent edit.
func (e *Editor) Undo() bool {
	if len(e.undo) == 0 {
		return false
	}
	last := len(e.undo) - 1
	e.redo = append(e.redo, e.value)
	e.value = e.undo[last]
	e.undo = e.undo[:last]
	e.notify()
	return true
}

// Redo reapplies the most recently undone edit.
func (e *Editor) Redo() bool {
	if len(e.redo) == 0 {
		return false
	}
	last := len(e.redo) - 1
	e.undo = append(e.undo, e.value)
	e.value = e.redo[last]
	e.redo = e.redo[:last]
	e.notify()
	return true
}

func (e *Editor) edit(apply func(*Value)) {
	next := e.value.Clone()
	apply(&next)
	e.undo = append(e.undo, e.value)
	if e.maxDepth > 0 && len(e.undo) > e.maxDepth {
		e.undo = e.undo[len(e.undo)-e.maxDepth:]
	}
	e.redo = nil
	e.value = next
	e.notify()
}

func (e *Editor) notify() {
	if e.onChange != nil {
		e.onChange(e.value.Clone())
	}
}
