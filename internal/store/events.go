package store

import "github.com/pavelanni/examlog/internal/pubsub"

// Draft event types.
const (
	EventCreated pubsub.EventType = "created"
	EventUpdated pubsub.EventType = "updated"
	EventDeleted pubsub.EventType = "deleted"
	EventCleared pubsub.EventType = "cleared"
)

// DeleteReason says why a draft left the store.
type DeleteReason string

const (
	ReasonUser      DeleteReason = "user"
	ReasonCommitted DeleteReason = "committed"
	ReasonEvicted   DeleteReason = "evicted"
)

// DraftEvent is published whenever the set of stored drafts changes.
// Receivers should re-read the store rather than trust the event alone.
type DraftEvent struct {
	DraftID string       `json:"draftId,omitempty"`
	Reason  DeleteReason `json:"reason,omitempty"`
}
