package session

import (
	"context"

	id "attesto/pkg/domain"
)

// Store persists onboarding sessions. Save is an upsert keyed by session id.
type Store interface {
	Save(ctx context.Context, sess *Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*Session, error)
}
