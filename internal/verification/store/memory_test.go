package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attesto/internal/verification/models"
	id "attesto/pkg/domain"
	"attesto/pkg/platform/sentinel"
)

func TestMemoryDrafts(t *testing.T) {
	ctx := context.Background()
	drafts := NewMemoryDrafts()

	draft := &models.IdentityDraft{
		ID:        id.NewDraftID(),
		SessionID: id.NewSessionID(),
		Issues:    []models.Issue{models.IssueDocumentProcessingFailed},
	}
	require.NoError(t, drafts.Save(ctx, draft))

	t.Run("find by id returns a copy", func(t *testing.T) {
		found, err := drafts.FindByID(ctx, draft.ID)
		require.NoError(t, err)

		found.Issues = append(found.Issues, models.IssueDuplicateDocument)
		again, err := drafts.FindByID(ctx, draft.ID)
		require.NoError(t, err)
		assert.Len(t, again.Issues, 1)
	})

	t.Run("find by session", func(t *testing.T) {
		found, err := drafts.FindBySession(ctx, draft.SessionID)
		require.NoError(t, err)
		assert.Equal(t, draft.ID, found.ID)
	})

	t.Run("missing draft", func(t *testing.T) {
		_, err := drafts.FindByID(ctx, id.NewDraftID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("save is an upsert", func(t *testing.T) {
		draft.DocumentProcessed = true
		require.NoError(t, drafts.Save(ctx, draft))

		found, err := drafts.FindByID(ctx, draft.ID)
		require.NoError(t, err)
		assert.True(t, found.DocumentProcessed)
	})
}

func TestMemoryJobs_Claim(t *testing.T) {
	ctx := context.Background()
	jobs := NewMemoryJobs()

	job := &models.VerificationJob{
		ID:      id.NewJobID(),
		DraftID: id.NewDraftID(),
		Status:  models.JobQueued,
	}
	require.NoError(t, jobs.Create(ctx, job))

	t.Run("first claim wins", func(t *testing.T) {
		won, err := jobs.Claim(ctx, job.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, won)

		claimed, err := jobs.FindByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobRunning, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
		assert.NotNil(t, claimed.StartedAt)
	})

	t.Run("second claim loses without error", func(t *testing.T) {
		won, err := jobs.Claim(ctx, job.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, won)
	})

	t.Run("missing job", func(t *testing.T) {
		_, err := jobs.Claim(ctx, id.NewJobID(), time.Now())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

// Many goroutines race to claim the same queued job; exactly one may win.
func TestMemoryJobs_ClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	jobs := NewMemoryJobs()

	job := &models.VerificationJob{ID: id.NewJobID(), Status: models.JobQueued}
	require.NoError(t, jobs.Create(ctx, job))

	const racers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := jobs.Claim(ctx, job.ID, time.Now())
			require.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)

	claimed, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)
}

func TestMemoryJobs_Lifecycle(t *testing.T) {
	ctx := context.Background()
	jobs := NewMemoryJobs()

	job := &models.VerificationJob{
		ID:      id.NewJobID(),
		DraftID: id.NewDraftID(),
		Status:  models.JobQueued,
	}
	require.NoError(t, jobs.Create(ctx, job))
	assert.ErrorIs(t, jobs.Create(ctx, job), sentinel.ErrConflict)

	active, err := jobs.FindActiveByDraft(ctx, job.DraftID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, active.ID)

	require.NoError(t, jobs.Finish(ctx, job.ID, models.JobComplete,
		[]byte(`{"verified":true}`), "", time.Now()))

	_, err = jobs.FindActiveByDraft(ctx, job.DraftID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	finished, err := jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, finished.Status)
	assert.NotNil(t, finished.FinishedAt)
	assert.JSONEq(t, `{"verified":true}`, string(finished.Result))
}

func TestMemoryDocuments_HashExists(t *testing.T) {
	ctx := context.Background()
	documents := NewMemoryDocuments()

	docID := id.NewDocumentID()
	require.NoError(t, documents.Create(ctx, &models.IdentityDocument{
		ID:           docID,
		UserID:       id.NewUserID(),
		DocumentHash: "abc123",
		Status:       models.DocumentVerified,
	}))

	t.Run("other document with same hash", func(t *testing.T) {
		exists, err := documents.HashExists(ctx, "abc123", id.NewDocumentID())
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("own document is excluded", func(t *testing.T) {
		exists, err := documents.HashExists(ctx, "abc123", docID)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("empty hash never matches", func(t *testing.T) {
		exists, err := documents.HashExists(ctx, "", id.NewDocumentID())
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestMemoryBundles_Upsert(t *testing.T) {
	ctx := context.Background()
	bundles := NewMemoryBundles()
	userID := id.NewUserID()

	require.NoError(t, bundles.Upsert(ctx, &models.IdentityBundle{
		UserID: userID,
		Status: models.BundlePending,
	}))
	require.NoError(t, bundles.Upsert(ctx, &models.IdentityBundle{
		UserID:    userID,
		Status:    models.BundleVerified,
		FheStatus: models.FheComplete,
	}))

	bundle, err := bundles.FindByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.BundleVerified, bundle.Status)
	assert.Equal(t, models.FheComplete, bundle.FheStatus)
}

func TestMemoryClaimsAndAttributes(t *testing.T) {
	ctx := context.Background()
	claims := NewMemoryClaims()
	attributes := NewMemoryAttributes()

	userID := id.NewUserID()
	other := id.NewUserID()

	require.NoError(t, claims.Append(ctx, &models.SignedClaim{
		UserID:    userID,
		ClaimType: models.ClaimOCRResult,
	}))
	require.NoError(t, claims.Append(ctx, &models.SignedClaim{
		UserID:    other,
		ClaimType: models.ClaimLivenessScore,
	}))

	mine, err := claims.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.ClaimOCRResult, mine[0].ClaimType)

	require.NoError(t, attributes.Append(ctx, &models.EncryptedAttribute{
		UserID:        userID,
		AttributeType: models.AttributeBirthYearOffset,
		Ciphertext:    "ct",
	}))
	attrs, err := attributes.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, models.AttributeBirthYearOffset, attrs[0].AttributeType)
}
