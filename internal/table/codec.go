package table

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// LegacyHeader names the single column used when stored content is not a
// table encoding.
const LegacyHeader = "Notes"

// Encode serializes v to its stored string form. Nil slices are written as
// empty arrays so the encoding of an empty table is stable.
func Encode(v Value) string {
	n := v.Clone()
	data, err := json.Marshal(n)
	if err != nil {
		// Value holds only strings; Marshal cannot fail on it.
		panic(fmt.Sprintf("table: encode: %v", err))
	}
	return string(data)
}

// Parse decodes a stored table strictly. Rows whose cell count disagrees
// with the headers are padded or truncated, and rows without an id get one.
func Parse(s string) (Value, error) {
	var v Value
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return Value{}, fmt.Errorf("parse table: %w", err)
	}
	if v.Headers == nil {
		return Value{}, fmt.Errorf("parse table: missing headers")
	}
	return repair(v), nil
}

// Decode decodes a stored table and never fails. An empty string is an empty
// table; content that is not a table encoding becomes a one-column table
// holding the raw text in a single free-text cell.
func Decode(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Value{Headers: []string{}, Rows: []Row{}}
	}
	v, err := Parse(s)
	if err == nil {
		return v
	}
	slog.Warn("stored table is not parseable, keeping it as text", "error", err)
	return Value{
		Headers: []string{LegacyHeader},
		Rows: []Row{{
			ID:    uuid.NewString(),
			Cells: []Cell{{Kind: KindText, Value: s}},
		}},
	}
}

func repair(v Value) Value {
	if v.Rows == nil {
		v.Rows = []Row{}
	}
	width := len(v.Headers)
	for i := range v.Rows {
		r := &v.Rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if len(r.Cells) > width {
			r.Cells = r.Cells[:width]
		}
		for len(r.Cells) < width {
			r.Cells = append(r.Cells, Cell{Kind: KindText})
		}
		for j := range r.Cells {
			if !r.Cells[j].Kind.Valid() {
				r.Cells[j].Kind = KindText
			}
		}
	}
	return v
}
