package audit

import (
	"context"
	"time"

	id "attesto/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose. This
// enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance,
	// e.g. a verification outcome being recorded for a user.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to abuse monitoring, e.g. a
	// duplicate document presented by a second session.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging, e.g. a
	// challenge being issued.
	CategoryOperations EventCategory = "operations"
)

// Action names for verification lifecycle events.
const (
	ActionVerificationStarted   = "verification_started"
	ActionVerificationCompleted = "verification_completed"
	ActionVerificationFailed    = "verification_failed"
	ActionDuplicateDocument     = "duplicate_document_detected"
	ActionChallengeIssued       = "challenge_issued"
)

// Event is emitted from domain logic to capture key actions. It carries only
// identifiers and derived facts, never raw PII: no images, no embeddings, no
// birth dates.
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	UserID    id.UserID     `json:"userId,omitempty"`
	DraftID   id.DraftID    `json:"draftId,omitempty"`
	JobID     id.JobID      `json:"jobId,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
}

// Publisher fans events out to the configured sinks. Implementations must be
// safe for concurrent use and must never block domain logic on sink outages.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Store persists events, for sinks that are stores rather than brokers.
type Store interface {
	Append(ctx context.Context, event Event) error
}
