package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "attesto/pkg/domain"
	"attesto/pkg/platform/sentinel"
)

// PostgresStore persists onboarding sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO onboarding_sessions (id, user_id, draft_id, step, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			draft_id = EXCLUDED.draft_id,
			step = EXCLUDED.step,
			updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(sess.ID), nullableUUID(uuid.UUID(sess.UserID)), nullableUUID(uuid.UUID(sess.DraftID)), int(sess.Step))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, sessionID id.SessionID) (*Session, error) {
	query := `
		SELECT id, user_id, draft_id, step, created_at, updated_at
		FROM onboarding_sessions WHERE id = $1
	`
	var (
		sess            Session
		rawID           uuid.UUID
		userID, draftID uuid.NullUUID
		step            int
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(sessionID)).
		Scan(&rawID, &userID, &draftID, &step, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	sess.ID = id.SessionID(rawID)
	sess.UserID = id.UserID(userID.UUID)
	sess.DraftID = id.DraftID(draftID.UUID)
	sess.Step = Step(step)
	return &sess, nil
}

func nullableUUID(u uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: u, Valid: u != uuid.Nil}
}
