//go:build integration

package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"attesto/internal/session"
	id "attesto/pkg/domain"
	"attesto/pkg/platform/sentinel"
	"attesto/pkg/testutil/containers"
)

type PostgresSessionSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *session.PostgresStore
}

func TestPostgresSessionSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresSessionSuite))
}

func (s *PostgresSessionSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = session.NewPostgres(s.postgres.DB)
}

func (s *PostgresSessionSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "onboarding_sessions"))
}

func (s *PostgresSessionSuite) TestRoundTrip() {
	ctx := context.Background()

	sess := &session.Session{
		ID:     id.NewSessionID(),
		UserID: id.NewUserID(),
		Step:   session.StepDocument,
	}
	s.Require().NoError(s.store.Save(ctx, sess))

	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.UserID, found.UserID)
	s.Equal(session.StepDocument, found.Step)
	s.True(found.DraftID.IsZero())
	s.False(found.CreatedAt.IsZero())
}

func (s *PostgresSessionSuite) TestUpsertAdvancesStep() {
	ctx := context.Background()

	sess := &session.Session{
		ID:   id.NewSessionID(),
		Step: session.StepDocument,
	}
	s.Require().NoError(s.store.Save(ctx, sess))

	sess.DraftID = id.NewDraftID()
	sess.Advance(session.StepLiveness)
	s.Require().NoError(s.store.Save(ctx, sess))

	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(session.StepLiveness, found.Step)
	s.Equal(sess.DraftID, found.DraftID)
}

func (s *PostgresSessionSuite) TestNotFound() {
	_, err := s.store.FindByID(context.Background(), id.NewSessionID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
