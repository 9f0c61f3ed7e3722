// Package table implements the structured mistakes table: a small
// spreadsheet-like value, its stable JSON encoding, and a history-tracked
// editor with undo and redo.
package table

// CellKind tags how a cell is edited.
type CellKind string

const (
	KindText     CellKind = "text"
	KindSelect   CellKind = "select"
	KindLongText CellKind = "textarea"
)

// Valid reports whether k is a known cell kind.
func (k CellKind) Valid() bool {
	switch k {
	case KindText, KindSelect, KindLongText:
		return true
	}
	return false
}

// Cell is a single typed table cell.
type Cell struct {
	Kind  CellKind `json:"type"`
	Value string   `json:"value"`
}

// Row is an identified list of cells aligned with the table headers.
type Row struct {
	ID    string `json:"id"`
	Cells []Cell `json:"cells"`
}

// Value is a table of headers and rows. Every row has exactly one cell per
// header.
type Value struct {
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	c := Value{
		Headers: append([]string{}, v.Headers...),
		Rows:    make([]Row, len(v.Rows)),
	}
	for i, r := range v.Rows {
		c.Rows[i] = Row{ID: r.ID, Cells: append([]Cell{}, r.Cells...)}
	}
	return c
}

// Equal reports whether v and o hold the same headers, rows and cells.
func (v Value) Equal(o Value) bool {
	if len(v.Headers) != len(o.Headers) || len(v.Rows) != len(o.Rows) {
		return false
	}
	for i := range v.Headers {
		if v.Headers[i] != o.Headers[i] {
			return false
		}
	}
	for i := range v.Rows {
		a, b := v.Rows[i], o.Rows[i]
		if a.ID != b.ID || len(a.Cells) != len(b.Cells) {
			return false
		}
		for j := range a.Cells {
			if a.Cells[j] != b.Cells[j] {
				return false
			}
		}
	}
	return true
}

// columnKind returns the kind used for new cells in column i, taken from the
// first row. Empty tables default to free text.
func (v Value) columnKind(i int) CellKind {
	if len(v.Rows) > 0 && i < len(v.Rows[0].Cells) && v.Rows[0].Cells[i].Kind.Valid() {
		return v.Rows[0].Cells[i].Kind
	}
	return KindText
}
