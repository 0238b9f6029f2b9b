// Package store persists the verification core's entities. Stores return
// sentinel errors for infrastructure facts; services translate them into
// domain errors.
package store

import (
	"context"
	"encoding/json"
	"time"

	"attesto/internal/verification/models"
	id "attesto/pkg/domain"
)

// DraftStore persists identity drafts. Save is an upsert: repeated intake
// calls for one session reuse the same draft row.
type DraftStore interface {
	Save(ctx context.Context, draft *models.IdentityDraft) error
	FindByID(ctx context.Context, draftID id.DraftID) (*models.IdentityDraft, error)
	FindBySession(ctx context.Context, sessionID id.SessionID) (*models.IdentityDraft, error)
}

// JobStore persists verification jobs. Claim is the durable guard against
// cross-process double execution: it transitions queued -> running only if
// the row is still queued, and reports whether this caller won.
type JobStore interface {
	Create(ctx context.Context, job *models.VerificationJob) error
	FindByID(ctx context.Context, jobID id.JobID) (*models.VerificationJob, error)
	FindActiveByDraft(ctx context.Context, draftID id.DraftID) (*models.VerificationJob, error)
	Claim(ctx context.Context, jobID id.JobID, startedAt time.Time) (bool, error)
	Finish(ctx context.Context, jobID id.JobID, status models.JobStatus, result json.RawMessage, errMsg string, finishedAt time.Time) error
}

// DocumentStore persists immutable identity documents.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.IdentityDocument) error
	FindByID(ctx context.Context, docID id.DocumentID) (*models.IdentityDocument, error)
	// HashExists reports whether another committed document already carries
	// this hash. The caller's own pre-allocated document id is excluded so a
	// re-verification does not read as a duplicate of itself.
	HashExists(ctx context.Context, hash string, excludeID id.DocumentID) (bool, error)
}

// BundleStore upserts the per-user aggregate status.
type BundleStore interface {
	Upsert(ctx context.Context, bundle *models.IdentityBundle) error
	FindByUser(ctx context.Context, userID id.UserID) (*models.IdentityBundle, error)
}

// ClaimStore appends signed claims. Claims are immutable once written.
type ClaimStore interface {
	Append(ctx context.Context, claim *models.SignedClaim) error
	ListByUser(ctx context.Context, userID id.UserID) ([]models.SignedClaim, error)
}

// AttributeStore appends encrypted attribute records. Never updated and
// never decrypted server-side.
type AttributeStore interface {
	Append(ctx context.Context, attr *models.EncryptedAttribute) error
	ListByUser(ctx context.Context, userID id.UserID) ([]models.EncryptedAttribute, error)
}
