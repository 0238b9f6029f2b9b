package intake

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attesto/internal/clients/ocr"
	"attesto/internal/crypto"
	"attesto/internal/ratelimit"
	"attesto/internal/session"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/requestcontext"
)

type fakeOCR struct {
	result        *ocr.Result
	err           error
	lastPriorSalt string
	calls         int
}

func (f *fakeOCR) ProcessDocument(ctx context.Context, image []byte, priorSalt string) (*ocr.Result, error) {
	f.calls++
	f.lastPriorSalt = priorSalt
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func validExtraction() *ocr.Result {
	return &ocr.Result{
		DocumentNumber:  "X123456",
		FirstName:       "Ada",
		LastName:        "Lovelace",
		DateOfBirth:     "1990-05-20",
		ExpirationDate:  "2030-01-01",
		NationalityCode: "DEU",
		DocumentType:    "passport",
		IssuingCountry:  "DEU",
		Confidence:      0.92,
		Commitments: &ocr.Commitments{
			DocumentHash:   hex.EncodeToString(make([]byte, 32)),
			NameCommitment: "namecommit",
			UserSalt:       "salt-1",
		},
	}
}

type IntakeSuite struct {
	suite.Suite

	ctx    context.Context
	now    time.Time
	stores *store.Memory
	sess   *session.Session
	ocr    *fakeOCR
	sealer *crypto.Sealer
	svc    *Service
}

func TestIntakeSuite(t *testing.T) {
	suite.Run(t, new(IntakeSuite))
}

func (s *IntakeSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.stores = store.NewMemory()
	s.sess = &session.Session{ID: id.NewSessionID(), Step: session.StepDocument}
	s.ocr = &fakeOCR{result: validExtraction()}

	sealer, err := crypto.NewSealer(hex.EncodeToString(make([]byte, 32)))
	s.Require().NoError(err)
	s.sealer = sealer

	sessions := session.NewMemoryStore()
	s.Require().NoError(sessions.Save(s.ctx, s.sess))

	svc, err := New(s.stores.Drafts, s.stores.Documents, sessions, s.ocr, sealer, nil)
	s.Require().NoError(err)
	s.svc = svc
}

func (s *IntakeSuite) TestValidDocument() {
	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)

	s.True(result.DocumentProcessed)
	s.True(result.IsDocumentValid)
	s.False(result.IsDuplicateDocument)
	s.Empty(result.Issues)
	s.NotNil(result.Extraction)

	draft, err := s.stores.Drafts.FindBySession(s.ctx, s.sess.ID)
	s.Require().NoError(err)
	s.Equal(1990, draft.BirthYear)
	s.Equal(90, draft.BirthYearOffset)
	s.Equal(276, draft.NationalityNum)
	s.Equal(276, draft.CountryNum)
	s.NotEmpty(draft.DocumentHashField)
	s.NotEmpty(draft.EncryptedFirstName)
	s.NotEqual("Ada", draft.EncryptedFirstName)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	s.Equal(exp, draft.ExpiryDate)

	s.Equal(session.StepLiveness, s.sess.Step)
	s.Equal(draft.ID, s.sess.DraftID)
}

func (s *IntakeSuite) TestRepeatedIntakeReusesDraftAndDocumentIDs() {
	first, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)

	second, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img2"))
	s.Require().NoError(err)

	s.Equal(first.DraftID, second.DraftID)
	s.Equal(first.DocumentID, second.DocumentID)
}

func (s *IntakeSuite) TestReVerificationPassesPriorSalt() {
	_, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)
	s.Empty(s.ocr.lastPriorSalt, "first run has no prior salt")

	_, err = s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)
	s.Equal("salt-1", s.ocr.lastPriorSalt, "second run recovers the sealed salt")
}

func (s *IntakeSuite) TestOCRFailureDegrades() {
	s.ocr.err = errors.New("ocr unreachable")

	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err, "collaborator failure must not abort intake")

	s.False(result.DocumentProcessed)
	s.False(result.IsDocumentValid)
	s.Contains(result.Issues, string(models.IssueDocumentProcessingFailed))
	s.Nil(result.Extraction)

	s.Equal(session.StepLiveness, s.sess.Step, "session still advances")
}

// TestFailedRerunClearsDerivedFields re-runs intake after a successful run
// with OCR now failing: nothing derived from the first image may survive, so
// the stale hash cannot re-flag a duplicate on a draft marked unprocessed.
func (s *IntakeSuite) TestFailedRerunClearsDerivedFields() {
	_, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)

	// Another user commits the same document between the two runs.
	s.Require().NoError(s.stores.Documents.Create(s.ctx, &models.IdentityDocument{
		ID:           id.NewDocumentID(),
		UserID:       id.NewUserID(),
		DocumentHash: s.ocr.result.Commitments.DocumentHash,
		Status:       models.DocumentVerified,
	}))

	s.ocr.err = errors.New("ocr unreachable")
	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img2"))
	s.Require().NoError(err)

	s.False(result.DocumentProcessed)
	s.False(result.IsDuplicateDocument, "a stale hash must not re-flag a duplicate")
	s.NotContains(result.Issues, string(models.IssueDuplicateDocument))

	draft, err := s.stores.Drafts.FindBySession(s.ctx, s.sess.ID)
	s.Require().NoError(err)
	s.Empty(draft.DocumentHash)
	s.Empty(draft.DocumentHashField)
	s.Empty(draft.NameCommitment)
	s.Empty(draft.EncryptedFirstName)
	s.Zero(draft.BirthYear)
	s.Zero(draft.BirthYearOffset)
	s.Zero(draft.ExpiryDate)
	s.Zero(draft.NationalityNum)
	s.Zero(draft.Confidence)
	s.NotEmpty(draft.EncryptedUserSalt, "the sealed salt survives for commitment continuity")
}

func (s *IntakeSuite) TestDuplicateDocument() {
	hash := s.ocr.result.Commitments.DocumentHash
	s.Require().NoError(s.stores.Documents.Create(s.ctx, &models.IdentityDocument{
		ID:           id.NewDocumentID(),
		UserID:       id.NewUserID(),
		DocumentHash: hash,
		Status:       models.DocumentVerified,
	}))

	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)

	s.True(result.IsDuplicateDocument)
	s.Contains(result.Issues, string(models.IssueDuplicateDocument))

	draft, err := s.stores.Drafts.FindBySession(s.ctx, s.sess.ID)
	s.Require().NoError(err)
	s.Empty(draft.DocumentHash, "a duplicate's hash must not persist as a fresh commitment")
}

func (s *IntakeSuite) TestOwnDocumentIsNotADuplicate() {
	_, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)

	draft, err := s.stores.Drafts.FindBySession(s.ctx, s.sess.ID)
	s.Require().NoError(err)

	// The session's own document was committed by an earlier finalization.
	s.Require().NoError(s.stores.Documents.Create(s.ctx, &models.IdentityDocument{
		ID:           draft.DocumentID,
		UserID:       id.NewUserID(),
		DocumentHash: s.ocr.result.Commitments.DocumentHash,
		Status:       models.DocumentVerified,
	}))

	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)
	s.False(result.IsDuplicateDocument)
}

func (s *IntakeSuite) TestLowConfidenceIsInvalid() {
	s.ocr.result.Confidence = 0.2

	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)

	s.True(result.DocumentProcessed)
	s.False(result.IsDocumentValid)
}

func (s *IntakeSuite) TestMissingDocumentNumberIsInvalid() {
	s.ocr.result.DocumentNumber = ""

	result, err := s.svc.PrepareDocument(s.ctx, s.sess, []byte("img"))
	s.Require().NoError(err)
	s.False(result.IsDocumentValid)
}

func (s *IntakeSuite) TestNoSessionIsForbidden() {
	_, err := s.svc.PrepareDocument(s.ctx, nil, []byte("img"))
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *IntakeSuite) TestEmptyImageRejected() {
	_, err := s.svc.PrepareDocument(s.ctx, s.sess, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestRateLimitRejection(t *testing.T) {
	now := time.Now()
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithClientIP(ctx, "203.0.113.7")

	stores := store.NewMemory()
	sessions := session.NewMemoryStore()
	sess := &session.Session{ID: id.NewSessionID(), Step: session.StepDocument}

	sealer, err := crypto.NewSealer(hex.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.NewFixedWindow(2, time.Minute)

	svc, err := New(stores.Drafts, stores.Documents, sessions, &fakeOCR{result: validExtraction()}, sealer, limiter)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.PrepareDocument(ctx, sess, []byte("img")); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	_, err = svc.PrepareDocument(ctx, sess, []byte("img"))
	if !dErrors.HasCode(err, dErrors.CodeRateLimited) {
		t.Fatalf("expected rate limit rejection, got %v", err)
	}
}
