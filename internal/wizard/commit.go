package wizard

import (
	"context"
	"fmt"

	"github.com/pavelanni/examlog/internal/model"
)

// Committer durably stores a finished record on the remote server. An empty
// remoteID creates a record; otherwise the record with that id is replaced.
type Committer interface {
	Commit(ctx context.Context, form model.FormData, remoteID string) (CommitResult, error)
}

// CommitResult is the remote server's acknowledgement.
type CommitResult struct {
	RemoteID string `json:"remoteId"`
	Created  bool   `json:"created"`
}

// FailureKind classifies a remote commit failure.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureNetwork    FailureKind = "network"
	FailureServer     FailureKind = "server"
)

// CommitError is a structured remote commit failure. The wizard keeps its
// state when one is returned, so the commit can be retried.
type CommitError struct {
	Kind    FailureKind       `json:"kind"`
	Status  int               `json:"status,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

func (e *CommitError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote commit %s failure (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote commit %s failure: %s", e.Kind, e.Message)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// InsightSuggester drafts the insight fields from the rest of the record.
type InsightSuggester interface {
	SuggestInsights(ctx context.Context, form model.FormData) (model.Insights, error)
}
