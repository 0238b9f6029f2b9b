package domain

import (
	"github.com/google/uuid"

	dErrors "attesto/pkg/domain-errors"
)

// Typed UUID wrappers for entity identifiers. Parsing enforces the invariant
// that IDs crossing a trust boundary are valid, non-nil UUIDs.

type (
	UserID     uuid.UUID
	SessionID  uuid.UUID
	DraftID    uuid.UUID
	DocumentID uuid.UUID
	JobID      uuid.UUID
)

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id DraftID) String() string    { return uuid.UUID(id).String() }
func (id DocumentID) String() string { return uuid.UUID(id).String() }
func (id JobID) String() string      { return uuid.UUID(id).String() }

func (id UserID) IsZero() bool     { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsZero() bool  { return uuid.UUID(id) == uuid.Nil }
func (id DraftID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id JobID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }

func NewUserID() UserID         { return UserID(uuid.New()) }
func NewSessionID() SessionID   { return SessionID(uuid.New()) }
func NewDraftID() DraftID       { return DraftID(uuid.New()) }
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }
func NewJobID() JobID           { return JobID(uuid.New()) }

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	return SessionID(u), err
}

func ParseDraftID(s string) (DraftID, error) {
	u, err := parseUUID(s)
	return DraftID(u), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID(s)
	return DocumentID(u), err
}

func ParseJobID(s string) (JobID, error) {
	u, err := parseUUID(s)
	return JobID(u), err
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}
