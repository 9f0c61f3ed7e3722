package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/examlog/internal/model"
)

// ExportDrafts builds an export envelope holding every stored draft, newest
// first.
func (s *Store) ExportDrafts(ctx context.Context) (model.DraftExport, error) {
	drafts, err := s.ListDrafts(ctx, ListOptions{})
	if err != nil {
		return model.DraftExport{}, fmt.Errorf("list drafts: %w", err)
	}
	if drafts == nil {
		drafts = []model.Draft{}
	}
	return model.DraftExport{
		ExportedAt: s.now(),
		Count:      len(drafts),
		Drafts:     drafts,
	}, nil
}
