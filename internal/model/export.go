package model

import "time"

// DraftExport is the top-level structure for a draft export.
type DraftExport struct {
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Drafts     []Draft   `json:"drafts"`
}
