package models

import (
	"time"

	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
)

// IdentityDraft is the mutable, session-scoped working record for one
// onboarding attempt. It carries only derived, privacy-safe fields: raw
// images, raw salts and full birth dates never land here.
type IdentityDraft struct {
	ID         id.DraftID
	SessionID  id.SessionID
	UserID     id.UserID // nil UUID until an account exists
	DocumentID id.DocumentID

	DocumentProcessed   bool
	IsDocumentValid     bool
	IsDuplicateDocument bool

	DocumentType   string
	IssuingCountry string

	// DocumentHash is empty while the document is flagged duplicate: a
	// duplicate's hash must not be reusable as a fresh commitment.
	DocumentHash      string
	DocumentHashField string

	NameCommitment    string
	EncryptedUserSalt string

	BirthYear       int
	BirthYearOffset int
	ExpiryDate      int64
	NationalityCode string
	NationalityNum  int
	CountryNum      int

	Confidence         float64
	EncryptedFirstName string

	// LivenessChecked records that a selfie face was actually scored, so a
	// genuine 0.0 score is distinguishable from no check at all.
	LivenessChecked bool
	AntispoofScore  float64
	LivenessScore   float64
	FaceMatchScore  float64
	LivenessPassed  bool
	FaceMatchPassed bool

	Issues []Issue

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttachUser binds a user account to the draft. The binding is immutable:
// rebinding to a different user is an invariant violation.
func (d *IdentityDraft) AttachUser(userID id.UserID) error {
	if userID.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if !d.UserID.IsZero() && d.UserID != userID {
		return dErrors.New(dErrors.CodeInvariantViolation, "draft already belongs to a different user")
	}
	d.UserID = userID
	return nil
}

// MarkDuplicate flags the draft as a duplicate submission and clears the
// document hash so it cannot serve as a fresh commitment.
func (d *IdentityDraft) MarkDuplicate() {
	d.IsDuplicateDocument = true
	d.DocumentHash = ""
	d.AddIssue(IssueDuplicateDocument)
}

// AddIssue appends an issue code, skipping duplicates.
func (d *IdentityDraft) AddIssue(issue Issue) {
	for _, existing := range d.Issues {
		if existing == issue {
			return
		}
	}
	d.Issues = append(d.Issues, issue)
}

// Verified reports the aggregate verification outcome. A missing artifact
// never counts as a pass.
func (d *IdentityDraft) Verified() bool {
	return d.DocumentProcessed &&
		d.IsDocumentValid &&
		d.LivenessPassed &&
		d.FaceMatchPassed &&
		!d.IsDuplicateDocument
}
