// Package intake implements document intake: OCR extraction, privacy
// commitment handling, duplicate detection and draft creation. Every
// collaborator failure degrades the result with an issue code instead of
// aborting the request.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attesto/internal/clients/ocr"
	"attesto/internal/crypto"
	"attesto/internal/ratelimit"
	"attesto/internal/session"
	"attesto/internal/verification/country"
	vmetrics "attesto/internal/verification/metrics"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/audit"
	"attesto/pkg/platform/sentinel"
	"attesto/pkg/requestcontext"
)

// baseBirthYear anchors the birth-year offset stored in place of a raw date
// of birth. Must match the offset encoding used by proof circuits.
const baseBirthYear = 1900

// OCRClient is the document extraction collaborator.
type OCRClient interface {
	ProcessDocument(ctx context.Context, image []byte, priorSalt string) (*ocr.Result, error)
}

// Result is the intake outcome returned to the caller. Extraction is for
// client display only; persisted decisions are always recomputed server-side.
type Result struct {
	DraftID             string      `json:"draftId"`
	DocumentID          string      `json:"documentId"`
	DocumentProcessed   bool        `json:"documentProcessed"`
	IsDocumentValid     bool        `json:"isDocumentValid"`
	IsDuplicateDocument bool        `json:"isDuplicateDocument"`
	Issues              []string    `json:"issues"`
	Extraction          *ocr.Result `json:"extraction,omitempty"`
}

// Service runs document intake for onboarding sessions.
type Service struct {
	drafts    store.DraftStore
	documents store.DocumentStore
	sessions  session.Store
	ocr       OCRClient
	sealer    *crypto.Sealer
	limiter   *ratelimit.FixedWindow

	minConfidence float64

	logger  *slog.Logger
	metrics *vmetrics.Metrics
	audit   audit.Publisher
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(p audit.Publisher) Option {
	return func(s *Service) { s.audit = p }
}

// WithMinConfidence overrides the OCR confidence floor for document validity.
func WithMinConfidence(min float64) Option {
	return func(s *Service) { s.minConfidence = min }
}

// New builds an intake service.
func New(drafts store.DraftStore, documents store.DocumentStore, sessions session.Store, ocrClient OCRClient, sealer *crypto.Sealer, limiter *ratelimit.FixedWindow, opts ...Option) (*Service, error) {
	if drafts == nil || documents == nil || sessions == nil {
		return nil, fmt.Errorf("intake stores are required")
	}
	if ocrClient == nil {
		return nil, fmt.Errorf("ocr client is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("sealer is required")
	}
	svc := &Service{
		drafts:        drafts,
		documents:     documents,
		sessions:      sessions,
		ocr:           ocrClient,
		sealer:        sealer,
		limiter:       limiter,
		minConfidence: 0.3,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PrepareDocument runs intake for one document image. Collaborator failures
// never abort the call: the draft records what could be derived plus an issue
// per degradation.
func (s *Service) PrepareDocument(ctx context.Context, sess *session.Session, image []byte) (*Result, error) {
	if err := session.ValidateStepAccess(sess, session.StepDocument); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document image is required")
	}
	if s.limiter != nil {
		if ip := requestcontext.ClientIP(ctx); ip != "" && !s.limiter.Allow(ip) {
			return nil, dErrors.New(dErrors.CodeRateLimited, "too many document submissions")
		}
	}

	now := requestcontext.Now(ctx)

	draft, created, err := s.loadOrCreateDraft(ctx, sess, now)
	if err != nil {
		return nil, err
	}

	// Re-running intake restarts the pipeline for this session: derived
	// fields and issues from any earlier run no longer apply.
	s.resetDerived(draft)

	priorSalt := s.priorSalt(ctx, draft)

	extraction, err := s.ocr.ProcessDocument(ctx, image, priorSalt)
	if err != nil {
		s.logger.WarnContext(ctx, "document processing failed",
			"draft_id", draft.ID,
			"error", err,
		)
		draft.AddIssue(models.IssueDocumentProcessingFailed)
		extraction = nil
	} else {
		s.applyExtraction(ctx, draft, extraction)
	}

	if err := s.detectDuplicate(ctx, draft); err != nil {
		return nil, err
	}

	draft.IsDocumentValid = s.documentValid(draft, extraction)
	draft.UpdatedAt = now

	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save draft")
	}

	sess.DraftID = draft.ID
	sess.Advance(session.StepLiveness)
	sess.UpdatedAt = now
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save session")
	}

	if created {
		s.publish(ctx, audit.Event{
			Category:  audit.CategoryCompliance,
			Timestamp: now,
			Action:    audit.ActionVerificationStarted,
			UserID:    draft.UserID,
			DraftID:   draft.ID,
			RequestID: requestcontext.RequestID(ctx),
		})
	}
	if s.metrics != nil {
		s.metrics.DocumentsPrepared.WithLabelValues(outcomeLabel(draft)).Inc()
	}

	return &Result{
		DraftID:             draft.ID.String(),
		DocumentID:          draft.DocumentID.String(),
		DocumentProcessed:   draft.DocumentProcessed,
		IsDocumentValid:     draft.IsDocumentValid,
		IsDuplicateDocument: draft.IsDuplicateDocument,
		Issues:              models.Strings(draft.Issues),
		Extraction:          extraction,
	}, nil
}

// loadOrCreateDraft reuses the session's existing draft so repeated intake
// calls keep one draft id and one document id per session.
func (s *Service) loadOrCreateDraft(ctx context.Context, sess *session.Session, now time.Time) (*models.IdentityDraft, bool, error) {
	draft, err := s.drafts.FindBySession(ctx, sess.ID)
	if err == nil {
		return draft, false, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "load draft")
	}

	draft = &models.IdentityDraft{
		ID:         id.NewDraftID(),
		SessionID:  sess.ID,
		UserID:     sess.UserID,
		DocumentID: id.NewDocumentID(),
		CreatedAt:  now,
	}
	return draft, true, nil
}

// resetDerived drops everything a previous run derived from its document
// image, so a run whose extraction fails never keeps stale commitments or
// re-flags the earlier run's hash. The sealed user salt survives: it is what
// keeps commitments stable across re-verification.
func (s *Service) resetDerived(draft *models.IdentityDraft) {
	draft.Issues = nil
	draft.DocumentProcessed = false
	draft.IsDocumentValid = false
	draft.IsDuplicateDocument = false
	draft.DocumentType = ""
	draft.IssuingCountry = ""
	draft.DocumentHash = ""
	draft.DocumentHashField = ""
	draft.NameCommitment = ""
	draft.BirthYear = 0
	draft.BirthYearOffset = 0
	draft.ExpiryDate = 0
	draft.NationalityCode = ""
	draft.NationalityNum = 0
	draft.CountryNum = 0
	draft.Confidence = 0
	draft.EncryptedFirstName = ""
	draft.LivenessChecked = false
	draft.LivenessPassed = false
	draft.FaceMatchPassed = false
	draft.AntispoofScore = 0
	draft.LivenessScore = 0
	draft.FaceMatchScore = 0
}

// priorSalt recovers the user's commitment salt from an earlier run so a
// re-verification produces identical commitments.
func (s *Service) priorSalt(ctx context.Context, draft *models.IdentityDraft) string {
	if draft.EncryptedUserSalt == "" {
		return ""
	}
	salt, err := s.sealer.Open(draft.EncryptedUserSalt)
	if err != nil {
		s.logger.WarnContext(ctx, "stored user salt unreadable, issuing fresh commitments",
			"draft_id", draft.ID,
			"error", err,
		)
		return ""
	}
	return salt
}

func (s *Service) applyExtraction(ctx context.Context, draft *models.IdentityDraft, extraction *ocr.Result) {
	draft.DocumentProcessed = true
	draft.DocumentType = extraction.DocumentType
	draft.IssuingCountry = extraction.IssuingCountry
	draft.Confidence = extraction.Confidence

	for _, raw := range extraction.Issues {
		draft.AddIssue(models.Issue(raw))
	}

	if extraction.Commitments != nil {
		draft.DocumentHash = extraction.Commitments.DocumentHash
		draft.NameCommitment = extraction.Commitments.NameCommitment

		if extraction.Commitments.UserSalt != "" {
			sealed, err := s.sealer.Seal(extraction.Commitments.UserSalt)
			if err != nil {
				s.logger.ErrorContext(ctx, "sealing user salt failed", "draft_id", draft.ID, "error", err)
			} else {
				draft.EncryptedUserSalt = sealed
			}
		}

		if draft.DocumentHash != "" {
			field, err := crypto.ToHashField(draft.DocumentHash)
			if err != nil {
				s.logger.WarnContext(ctx, "document hash field derivation failed",
					"draft_id", draft.ID,
					"error", err,
				)
				draft.AddIssue(models.IssueDocumentHashFieldFailed)
			} else {
				draft.DocumentHashField = field
			}
		}
	}

	if extraction.DateOfBirth != "" {
		if dob, err := time.Parse("2006-01-02", extraction.DateOfBirth); err == nil {
			draft.BirthYear = dob.Year()
			draft.BirthYearOffset = dob.Year() - baseBirthYear
		}
	}
	if extraction.ExpirationDate != "" {
		if exp, err := time.Parse("2006-01-02", extraction.ExpirationDate); err == nil {
			draft.ExpiryDate = exp.UTC().Unix()
		}
	}

	draft.NationalityCode = extraction.NationalityCode
	if n, ok := country.Numeric(extraction.NationalityCode); ok {
		draft.NationalityNum = n
	}
	if n, ok := country.Numeric(extraction.IssuingCountry); ok {
		draft.CountryNum = n
	}

	if extraction.FirstName != "" {
		sealed, err := s.sealer.Seal(extraction.FirstName)
		if err != nil {
			s.logger.ErrorContext(ctx, "sealing first name failed", "draft_id", draft.ID, "error", err)
		} else {
			draft.EncryptedFirstName = sealed
		}
	}
}

// detectDuplicate checks the privacy-preserving hash against committed
// documents. The session's own pre-allocated document id is excluded so a
// re-verification is never a duplicate of itself.
func (s *Service) detectDuplicate(ctx context.Context, draft *models.IdentityDraft) error {
	if draft.DocumentHash == "" {
		return nil
	}
	exists, err := s.documents.HashExists(ctx, draft.DocumentHash, draft.DocumentID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "duplicate lookup")
	}
	if !exists {
		return nil
	}

	draft.MarkDuplicate()
	s.logger.InfoContext(ctx, "duplicate document detected", "draft_id", draft.ID)
	if s.metrics != nil {
		s.metrics.DuplicateDocuments.Inc()
	}
	s.publish(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: requestcontext.Now(ctx),
		Action:    audit.ActionDuplicateDocument,
		UserID:    draft.UserID,
		DraftID:   draft.ID,
		RequestID: requestcontext.RequestID(ctx),
	})
	return nil
}

func (s *Service) documentValid(draft *models.IdentityDraft, extraction *ocr.Result) bool {
	return draft.DocumentProcessed &&
		extraction != nil &&
		extraction.Confidence > s.minConfidence &&
		extraction.DocumentNumber != ""
}

func (s *Service) publish(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed", "action", event.Action, "error", err)
	}
}

func outcomeLabel(draft *models.IdentityDraft) string {
	switch {
	case draft.IsDuplicateDocument:
		return "duplicate"
	case !draft.DocumentProcessed:
		return "processing_failed"
	case !draft.IsDocumentValid:
		return "invalid"
	default:
		return "valid"
	}
}
