// Package finalize implements the asynchronous finalization job engine.
// Jobs move queued -> running -> {complete, error}; every collaborator call
// inside a run is individually degraded to an issue, and only a missing draft
// or an unexpected panic marks the job error.
package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"attesto/internal/clients/fhe"
	"attesto/internal/crypto"
	"attesto/internal/session"
	vmetrics "attesto/internal/verification/metrics"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/audit"
	"attesto/pkg/platform/sentinel"
	"attesto/pkg/requestcontext"
)

// SignerClient attests claim payloads.
type SignerClient interface {
	Sign(ctx context.Context, payload json.RawMessage) (string, error)
}

// FHEClient encrypts attribute batches under a user's key.
type FHEClient interface {
	EncryptBatch(ctx context.Context, keyID string, fields fhe.BatchFields, requestID string) (*fhe.BatchCiphertexts, error)
}

// Status is the polling view of a job.
type Status struct {
	JobID  string            `json:"jobId"`
	Status models.JobStatus  `json:"status"`
	Result *models.JobResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Service owns the finalization lifecycle: job creation, scheduling, claim,
// processing and polling.
type Service struct {
	drafts     store.DraftStore
	jobs       store.JobStore
	documents  store.DocumentStore
	bundles    store.BundleStore
	claims     store.ClaimStore
	attributes store.AttributeStore

	signer SignerClient
	fhe    FHEClient

	scheduler *Scheduler

	issuerID           string
	policyVersion      string
	faceMatchThreshold float64

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

// WithIssuer sets the issuer identity stamped onto bundles.
func WithIssuer(issuerID, policyVersion string) Option {
	return func(s *Service) {
		s.issuerID = issuerID
		s.policyVersion = policyVersion
	}
}

func WithFaceMatchThreshold(threshold float64) Option {
	return func(s *Service) { s.faceMatchThreshold = threshold }
}

// New builds a finalize service with its own scheduler.
func New(stores *Stores, signer SignerClient, fheClient FHEClient, opts ...Option) (*Service, error) {
	if stores == nil || stores.Drafts == nil || stores.Jobs == nil || stores.Documents == nil ||
		stores.Bundles == nil || stores.Claims == nil || stores.Attributes == nil {
		return nil, fmt.Errorf("finalize stores are required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer client is required")
	}
	if fheClient == nil {
		return nil, fmt.Errorf("fhe client is required")
	}
	svc := &Service{
		drafts:             stores.Drafts,
		jobs:               stores.Jobs,
		documents:          stores.Documents,
		bundles:            stores.Bundles,
		claims:             stores.Claims,
		attributes:         stores.Attributes,
		signer:             signer,
		fhe:                fheClient,
		issuerID:           "attesto",
		policyVersion:      "v1",
		faceMatchThreshold: 0.5,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.scheduler = NewScheduler(svc.process, svc.logger)
	return svc, nil
}

// Scheduler exposes the scheduler for lifecycle management (shutdown waits).
func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

// FinalizeAsync starts (or re-enters) finalization for a draft. A still
// queued or running job for the draft is rescheduled and returned instead of
// creating a duplicate, so repeated calls are idempotent.
func (s *Service) FinalizeAsync(ctx context.Context, sess *session.Session, draftID id.DraftID, fheKeyID string) (*Status, error) {
	if err := session.ValidateStepAccess(sess, session.StepFinalize); err != nil {
		return nil, err
	}
	if sess.DraftID != draftID {
		return nil, dErrors.New(dErrors.CodeForbidden, "draft does not belong to this session")
	}
	userID := requestcontext.UserID(ctx)
	if userID.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	draft, err := s.drafts.FindByID(ctx, draftID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "draft not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load draft")
	}
	if err := draft.AttachUser(userID); err != nil {
		return nil, err
	}
	draft.UpdatedAt = requestcontext.Now(ctx)
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save draft")
	}

	existing, err := s.jobs.FindActiveByDraft(ctx, draftID)
	if err == nil {
		s.scheduler.Schedule(existing.ID)
		return &Status{JobID: existing.ID.String(), Status: existing.Status}, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "look up active job")
	}

	job := &models.VerificationJob{
		ID:        id.NewJobID(),
		DraftID:   draftID,
		UserID:    userID,
		FHEKeyID:  fheKeyID,
		Status:    models.JobQueued,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create job")
	}

	s.scheduler.Schedule(job.ID)

	s.publish(ctx, audit.Event{
		Category:  audit.CategoryOperations,
		Timestamp: requestcontext.Now(ctx),
		Action:    audit.ActionVerificationStarted,
		UserID:    userID,
		DraftID:   draftID,
		JobID:     job.ID,
		RequestID: requestcontext.RequestID(ctx),
	})
	return &Status{JobID: job.ID.String(), Status: job.Status}, nil
}

// FinalizeStatus reports job progress. A job observed still queued is
// rescheduled first: after a process restart the in-memory scheduler is
// empty and polling is what revives the work.
func (s *Service) FinalizeStatus(ctx context.Context, sess *session.Session, jobID id.JobID) (*Status, error) {
	if sess == nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "no onboarding session")
	}

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "job not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load job")
	}
	if job.DraftID != sess.DraftID {
		return nil, dErrors.New(dErrors.CodeForbidden, "job does not belong to this session")
	}

	if job.Status == models.JobQueued {
		s.scheduler.Schedule(job.ID)
	}

	status := &Status{JobID: job.ID.String(), Status: job.Status, Error: job.ErrorMessage}
	if len(job.Result) > 0 {
		var result models.JobResult
		if err := json.Unmarshal(job.Result, &result); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode job result")
		}
		status.Result = &result
	}
	return status, nil
}

// process runs one finalization attempt. Invoked by the scheduler on its own
// goroutine; never returns an error because there is no caller to receive it.
func (s *Service) process(ctx context.Context, jobID id.JobID) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "finalization panicked", "job_id", jobID, "panic", r)
			s.finishError(ctx, jobID, fmt.Sprintf("finalization panicked: %v", r))
		}
	}()

	won, err := s.jobs.Claim(ctx, jobID, started)
	if err != nil {
		s.logger.ErrorContext(ctx, "job claim failed", "job_id", jobID, "error", err)
		return
	}
	if !won {
		// Another worker holds the job, or it already finished.
		return
	}
	if s.metrics != nil {
		s.metrics.JobsStarted.Inc()
	}

	job, err := s.jobs.FindByID(ctx, jobID)
	if err != nil {
		s.finishError(ctx, jobID, "job vanished after claim")
		return
	}

	draft, err := s.drafts.FindByID(ctx, job.DraftID)
	if err != nil {
		s.finishError(ctx, jobID, "draft not found")
		return
	}

	s.recomputeFlags(draft)
	s.ensureHashField(ctx, draft)

	claimed := s.signClaims(ctx, job, draft)
	ciphertexts, fheErrors := s.encryptAttributes(ctx, job, draft)

	fheStatus := s.aggregateFheStatus(draft, ciphertexts)
	verified := draft.Verified()

	firstFheError := ""
	if len(fheErrors) > 0 {
		firstFheError = fheErrors[0]
	}
	s.upsertBundle(ctx, job, verified, fheStatus, firstFheError)

	documentID := s.commitDocument(ctx, job, draft, verified)

	if err := s.drafts.Save(ctx, draft); err != nil {
		s.logger.ErrorContext(ctx, "saving draft after finalization failed", "job_id", jobID, "error", err)
	}

	result := models.JobResult{
		Verified:  verified,
		FheStatus: fheStatus,
		FheErrors: fheErrors,
		Issues:    models.Strings(draft.Issues),
		Claims:    claimed,
		Document:  documentID,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.finishError(ctx, jobID, "encode job result: "+err.Error())
		return
	}
	if err := s.jobs.Finish(ctx, jobID, models.JobComplete, payload, "", time.Now()); err != nil {
		s.logger.ErrorContext(ctx, "finishing job failed", "job_id", jobID, "error", err)
		return
	}

	action := audit.ActionVerificationFailed
	if verified {
		action = audit.ActionVerificationCompleted
	}
	s.publish(ctx, audit.Event{
		Category:  audit.CategoryCompliance,
		Timestamp: time.Now(),
		Action:    action,
		UserID:    job.UserID,
		DraftID:   job.DraftID,
		JobID:     jobID,
	})

	if s.metrics != nil {
		s.metrics.JobsFinished.WithLabelValues(string(models.JobComplete)).Inc()
		s.metrics.JobDuration.Observe(time.Since(started).Seconds())
	}
	s.logger.InfoContext(ctx, "finalization complete",
		"job_id", jobID,
		"verified", verified,
		"fhe_status", fheStatus,
		"issues", len(draft.Issues),
	)
}

func (s *Service) finishError(ctx context.Context, jobID id.JobID, msg string) {
	if err := s.jobs.Finish(ctx, jobID, models.JobError, nil, msg, time.Now()); err != nil {
		s.logger.ErrorContext(ctx, "marking job errored failed", "job_id", jobID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.JobsFinished.WithLabelValues(string(models.JobError)).Inc()
	}
}

// recomputeFlags re-derives the verdict inputs from the persisted draft and
// records an issue for every failing flag. The job never trusts flags carried
// over the wire.
func (s *Service) recomputeFlags(draft *models.IdentityDraft) {
	if !draft.DocumentProcessed {
		draft.AddIssue(models.IssueDocumentNotProcessed)
	}
	if !draft.IsDocumentValid {
		draft.AddIssue(models.IssueDocumentInvalid)
	}
	if !draft.LivenessPassed {
		draft.AddIssue(models.IssueLivenessFailed)
	}
	if !draft.FaceMatchPassed {
		draft.AddIssue(models.IssueFaceMatchFailed)
	}
}

// ensureHashField derives the circuit-friendly hash field lazily for drafts
// persisted before the field existed.
func (s *Service) ensureHashField(ctx context.Context, draft *models.IdentityDraft) {
	if draft.DocumentHash == "" || draft.DocumentHashField != "" {
		return
	}
	field, err := crypto.ToHashField(draft.DocumentHash)
	if err != nil {
		s.logger.WarnContext(ctx, "hash field derivation failed", "draft_id", draft.ID, "error", err)
		draft.AddIssue(models.IssueDocumentHashFieldFailed)
		return
	}
	draft.DocumentHashField = field
}

// signClaims issues the three claim types independently: a failure in one is
// recorded as an issue and never blocks the others. Returns the types signed.
func (s *Service) signClaims(ctx context.Context, job *models.VerificationJob, draft *models.IdentityDraft) []string {
	var signed []string

	if s.signOne(ctx, job, models.ClaimOCRResult, s.ocrClaimPayload(draft), models.IssueOCRClaimFailed, draft) {
		signed = append(signed, string(models.ClaimOCRResult))
	}
	if s.signOne(ctx, job, models.ClaimLivenessScore, s.livenessClaimPayload(draft), models.IssueLivenessClaimFailed, draft) {
		signed = append(signed, string(models.ClaimLivenessScore))
	}
	if s.signOne(ctx, job, models.ClaimFaceMatchScore, s.faceMatchClaimPayload(draft), models.IssueFaceMatchClaimFailed, draft) {
		signed = append(signed, string(models.ClaimFaceMatchScore))
	}
	return signed
}

func (s *Service) signOne(ctx context.Context, job *models.VerificationJob, claimType models.ClaimType, payload any, failure models.Issue, draft *models.IdentityDraft) bool {
	raw, err := json.Marshal(payload)
	if err == nil {
		var signature string
		signature, err = s.signer.Sign(ctx, raw)
		if err == nil {
			err = s.claims.Append(ctx, &models.SignedClaim{
				ID:         uuid.New(),
				UserID:     job.UserID,
				DocumentID: draft.DocumentID,
				ClaimType:  claimType,
				Payload:    raw,
				Signature:  signature,
				IssuedAt:   time.Now(),
			})
		}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "claim signing failed",
			"job_id", job.ID,
			"claim_type", claimType,
			"error", err,
		)
		draft.AddIssue(failure)
		if s.metrics != nil {
			s.metrics.ClaimFailures.WithLabelValues(string(claimType)).Inc()
		}
		return false
	}
	return true
}

// ocrClaimPayload binds each attested value to this document via a claim
// hash, so a claim cannot be replayed against a different document.
func (s *Service) ocrClaimPayload(draft *models.IdentityDraft) models.OCRClaimPayload {
	hashes := make(map[string]string)
	if draft.DocumentHashField != "" {
		if draft.BirthYear > 0 {
			hashes["birthYear"] = crypto.ClaimHash(strconv.Itoa(draft.BirthYear), draft.DocumentHashField)
		}
		if draft.ExpiryDate > 0 {
			hashes["expiryDate"] = crypto.ClaimHash(strconv.FormatInt(draft.ExpiryDate, 10), draft.DocumentHashField)
		}
		if draft.NationalityNum > 0 {
			hashes["nationalityNumeric"] = crypto.ClaimHash(strconv.Itoa(draft.NationalityNum), draft.DocumentHashField)
		}
	}
	return models.OCRClaimPayload{
		DocumentType:      draft.DocumentType,
		IssuingCountry:    draft.IssuingCountry,
		DocumentHashField: draft.DocumentHashField,
		BirthYear:         draft.BirthYear,
		ExpiryDate:        draft.ExpiryDate,
		NationalityNum:    draft.NationalityNum,
		ClaimHashes:       hashes,
	}
}

func (s *Service) livenessClaimPayload(draft *models.IdentityDraft) models.LivenessClaimPayload {
	return models.LivenessClaimPayload{
		DocumentHashField: draft.DocumentHashField,
		AntispoofScore:    models.FixedPoint(draft.AntispoofScore),
		LivenessScore:     models.FixedPoint(draft.LivenessScore),
		Passed:            draft.LivenessPassed,
	}
}

func (s *Service) faceMatchClaimPayload(draft *models.IdentityDraft) models.FaceMatchClaimPayload {
	confidence := models.FixedPoint(draft.FaceMatchScore)
	claimHash := ""
	if draft.DocumentHashField != "" {
		claimHash = crypto.ClaimHash(strconv.FormatInt(confidence, 10), draft.DocumentHashField)
	}
	return models.FaceMatchClaimPayload{
		DocumentHashField: draft.DocumentHashField,
		Confidence:        confidence,
		Threshold:         models.FixedPoint(s.faceMatchThreshold),
		Passed:            draft.FaceMatchPassed,
		ClaimHash:         claimHash,
	}
}

// encryptAttributes runs one batched FHE call for all available fields and
// persists whatever ciphertexts came back. Returns the number persisted and
// the FHE error descriptions recorded, if any.
func (s *Service) encryptAttributes(ctx context.Context, job *models.VerificationJob, draft *models.IdentityDraft) (int, []string) {
	// Presence is judged from the draft, not from the value: a 1900 birth
	// year (offset 0) and a scored-but-zero liveness check still encrypt.
	fields := fhe.BatchFields{}
	var attempted []string
	if draft.BirthYear != 0 {
		v := draft.BirthYearOffset
		fields.BirthYearOffset = &v
		attempted = append(attempted, string(models.AttributeBirthYearOffset))
	}
	if draft.NationalityNum != 0 {
		v := draft.NationalityNum
		fields.CountryCode = &v
		attempted = append(attempted, string(models.AttributeCountryCode))
	}
	if draft.LivenessChecked {
		v := draft.LivenessScore
		fields.LivenessScore = &v
		attempted = append(attempted, string(models.AttributeLivenessScore))
	}
	if fields.Empty() {
		return 0, nil
	}

	if job.FHEKeyID == "" {
		// Report-once regardless of how many fields needed encryption.
		draft.AddIssue(models.IssueFHEKeyMissing)
		return 0, []string{"no fhe key id supplied"}
	}

	ciphertexts, err := s.fhe.EncryptBatch(ctx, job.FHEKeyID, fields, job.ID.String())
	if err != nil {
		// The batch fails as a unit, but the result names every encryption
		// that was lost.
		desc := s.classifyFheError(ctx, job, draft, err)
		errs := make([]string, len(attempted))
		for i, field := range attempted {
			errs[i] = field + ": " + desc
		}
		return 0, errs
	}

	persisted := 0
	persist := func(attrType models.AttributeType, ciphertext *string) {
		if ciphertext == nil || *ciphertext == "" {
			return
		}
		attr := &models.EncryptedAttribute{
			ID:            uuid.New(),
			UserID:        job.UserID,
			Source:        "verification",
			AttributeType: attrType,
			Ciphertext:    *ciphertext,
			KeyID:         job.FHEKeyID,
			CreatedAt:     time.Now(),
		}
		if err := s.attributes.Append(ctx, attr); err != nil {
			s.logger.ErrorContext(ctx, "persisting encrypted attribute failed",
				"job_id", job.ID,
				"attribute_type", attrType,
				"error", err,
			)
			return
		}
		persisted++
	}
	persist(models.AttributeBirthYearOffset, ciphertexts.BirthYearOffset)
	persist(models.AttributeCountryCode, ciphertexts.CountryCode)
	persist(models.AttributeLivenessScore, ciphertexts.LivenessScore)
	return persisted, nil
}

// classifyFheError maps typed FHE client errors onto issues: a structured
// rejection is an encryption failure (or a missing key), a transport failure
// means the service was unavailable.
func (s *Service) classifyFheError(ctx context.Context, job *models.VerificationJob, draft *models.IdentityDraft, err error) string {
	var serviceErr *fhe.ServiceError
	var transportErr *fhe.TransportError
	switch {
	case errors.As(err, &serviceErr):
		if serviceErr.Kind == fhe.KindKeyNotFound {
			draft.AddIssue(models.IssueFHEKeyMissing)
		} else {
			draft.AddIssue(models.IssueFHEEncryptionFailed)
		}
		if s.metrics != nil {
			s.metrics.FHEFailures.WithLabelValues(string(serviceErr.Kind)).Inc()
		}
	case errors.As(err, &transportErr):
		draft.AddIssue(models.IssueFHEServiceUnavailable)
		if s.metrics != nil {
			s.metrics.FHEFailures.WithLabelValues("transport").Inc()
		}
	default:
		draft.AddIssue(models.IssueFHEServiceUnavailable)
		if s.metrics != nil {
			s.metrics.FHEFailures.WithLabelValues("unknown").Inc()
		}
	}
	s.logger.WarnContext(ctx, "fhe batch encryption failed", "job_id", job.ID, "error", err)
	return err.Error()
}

func (s *Service) aggregateFheStatus(draft *models.IdentityDraft, ciphertexts int) models.FheStatus {
	if ciphertexts > 0 {
		return models.FheComplete
	}
	for _, issue := range draft.Issues {
		switch issue {
		case models.IssueFHEKeyMissing, models.IssueFHEEncryptionFailed, models.IssueFHEServiceUnavailable:
			return models.FheError
		}
	}
	return models.FhePending
}

func (s *Service) upsertBundle(ctx context.Context, job *models.VerificationJob, verified bool, fheStatus models.FheStatus, fheError string) {
	status := models.BundleFailed
	if verified {
		status = models.BundleVerified
	}
	bundle := &models.IdentityBundle{
		UserID:        job.UserID,
		Status:        status,
		IssuerID:      s.issuerID,
		PolicyVersion: s.policyVersion,
		FHEKeyID:      job.FHEKeyID,
		FheStatus:     fheStatus,
		FheError:      fheError,
		UpdatedAt:     time.Now(),
	}
	if err := s.bundles.Upsert(ctx, bundle); err != nil {
		s.logger.ErrorContext(ctx, "bundle upsert failed", "job_id", job.ID, "error", err)
	}
}

// commitDocument writes the immutable document record once processing
// succeeded. A duplicate draft carries an empty hash, which persists as NULL
// so the commitment is never reusable. Returns the document id, or empty.
func (s *Service) commitDocument(ctx context.Context, job *models.VerificationJob, draft *models.IdentityDraft, verified bool) string {
	if !draft.DocumentProcessed {
		return ""
	}
	status := models.DocumentFailed
	if verified {
		status = models.DocumentVerified
	}
	doc := &models.IdentityDocument{
		ID:                 draft.DocumentID,
		UserID:             job.UserID,
		DocumentType:       draft.DocumentType,
		IssuingCountry:     draft.IssuingCountry,
		DocumentHash:       draft.DocumentHash,
		NameCommitment:     draft.NameCommitment,
		EncryptedUserSalt:  draft.EncryptedUserSalt,
		BirthYearOffset:    draft.BirthYearOffset,
		EncryptedFirstName: draft.EncryptedFirstName,
		Confidence:         draft.Confidence,
		Status:             status,
		VerifiedAt:         time.Now(),
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A prior finalization attempt already committed this document.
			return doc.ID.String()
		}
		s.logger.ErrorContext(ctx, "document commit failed", "job_id", job.ID, "error", err)
		return ""
	}
	return doc.ID.String()
}

func (s *Service) publish(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed", "action", event.Action, "error", err)
	}
}

// Stores groups the persistence dependencies of the finalize service.
type Stores struct {
	Drafts     store.DraftStore
	Jobs       store.JobStore
	Documents  store.DocumentStore
	Bundles    store.BundleStore
	Claims     store.ClaimStore
	Attributes store.AttributeStore
}

// StoresFromMemory adapts the aggregate memory store. Used by tests and
// single-process deployments.
func StoresFromMemory(m *store.Memory) *Stores {
	return &Stores{
		Drafts:     m.Drafts,
		Jobs:       m.Jobs,
		Documents:  m.Documents,
		Bundles:    m.Bundles,
		Claims:     m.Claims,
		Attributes: m.Attributes,
	}
}

// StoresFromPostgres adapts the aggregate Postgres store.
func StoresFromPostgres(p *store.Postgres) *Stores {
	return &Stores{
		Drafts:     p.Drafts,
		Jobs:       p.Jobs,
		Documents:  p.Documents,
		Bundles:    p.Bundles,
		Claims:     p.Claims,
		Attributes: p.Attributes,
	}
}
