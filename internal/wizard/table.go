package wizard

import (
	"fmt"

	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/table"
)

// TableEditor opens an editor on the mistakes table of one section. Every
// edit is encoded back into the section, which marks the session unsaved and
// arms autosave. Edits are dropped once the session is replaced, once the
// section list changes length or order, or once the table is changed
// outside the editor.
func (w *Wizard) TableEditor(section int, opts ...table.Option) (*table.Editor, error) {
	w.mu.Lock()
	if section < 0 || section >= len(w.form.Sections) {
		w.mu.Unlock()
		return nil, fmt.Errorf("section %d out of range", section)
	}
	initial := table.Decode(w.form.Sections[section].Mistakes)
	// last is the encoding the section held when the editor last wrote.
	last := w.form.Sections[section].Mistakes
	gen, layout := w.gen, w.layout
	w.mu.Unlock()

	writeBack := func(v table.Value) {
		encoded := table.Encode(v)
		w.updateSection(gen, layout, func(f *model.FormData) bool {
			if section >= len(f.Sections) || f.Sections[section].Mistakes != last {
				return false
			}
			f.Sections[section].Mistakes = encoded
			last = encoded
			return true
		})
	}
	opts = append(opts, table.WithOnChange(writeBack))
	return table.NewEditor(initial, opts...), nil
}

// Layout identifies the current section list. It changes whenever the
// session is replaced or the list changes length or order, and so whenever
// editors opened earlier stop writing back.
func (w *Wizard) Layout() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.layout
}

// updateSection applies fn while the session and its section layout are
// the ones the editor was opened on. fn reports whether it changed the form.
func (w *Wizard) updateSection(gen, layout uint64, fn func(*model.FormData) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen || layout != w.layout {
		return
	}
	next := w.form.Clone()
	if !fn(&next) {
		return
	}
	w.keep(next)
}
