// Package liveness implements biometric scoring: selfie liveness and
// document-to-selfie face matching. All verdicts are computed server-side
// from collaborator scores; client-supplied pass/fail booleans are never
// persisted.
package liveness

import (
	"context"
	"fmt"
	"log/slog"

	"attesto/internal/clients/biometric"
	"attesto/internal/session"
	vmetrics "attesto/internal/verification/metrics"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/requestcontext"
)

// Detector is the face detection collaborator.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]biometric.Face, error)
	Crop(ctx context.Context, image []byte, box biometric.Box) ([]biometric.Face, error)
}

// Thresholds are the score floors for a passing verdict.
type Thresholds struct {
	Antispoof float64
	Liveness  float64
	FaceMatch float64
}

// DefaultThresholds mirror the biometric collaborator's calibration.
var DefaultThresholds = Thresholds{
	Antispoof: 0.3,
	Liveness:  0.5,
	FaceMatch: 0.5,
}

// Result is the scoring outcome returned to the caller.
type Result struct {
	DraftID         string   `json:"draftId"`
	AntispoofScore  float64  `json:"antispoofScore"`
	LivenessScore   float64  `json:"livenessScore"`
	FaceMatchScore  float64  `json:"faceMatchScore"`
	LivenessPassed  bool     `json:"livenessPassed"`
	FaceMatchPassed bool     `json:"faceMatchPassed"`
	Issues          []string `json:"issues"`
}

// Service scores liveness and face match for a draft.
type Service struct {
	drafts     store.DraftStore
	sessions   session.Store
	detector   Detector
	thresholds Thresholds

	logger  *slog.Logger
	metrics *vmetrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithThresholds(t Thresholds) Option {
	return func(s *Service) { s.thresholds = t }
}

// New builds a liveness service.
func New(drafts store.DraftStore, sessions session.Store, detector Detector, opts ...Option) (*Service, error) {
	if drafts == nil || sessions == nil {
		return nil, fmt.Errorf("liveness stores are required")
	}
	if detector == nil {
		return nil, fmt.Errorf("face detector is required")
	}
	svc := &Service{
		drafts:     drafts,
		sessions:   sessions,
		detector:   detector,
		thresholds: DefaultThresholds,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PrepareLiveness scores the selfie against the document photo and persists
// the verdicts on the draft. Detection failures degrade to issues and failing
// verdicts; a missing face never fabricates a score.
func (s *Service) PrepareLiveness(ctx context.Context, sess *session.Session, draftID id.DraftID, documentImage, selfieImage []byte) (*Result, error) {
	if err := session.ValidateStepAccess(sess, session.StepLiveness); err != nil {
		return nil, err
	}
	if sess.DraftID != draftID {
		return nil, dErrors.New(dErrors.CodeForbidden, "draft does not belong to this session")
	}
	if len(documentImage) == 0 || len(selfieImage) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document and selfie images are required")
	}

	draft, err := s.drafts.FindByID(ctx, draftID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "draft not found")
	}

	selfieFace := s.detectLargest(ctx, selfieImage, draft, models.IssueNoSelfieFace)
	docFace := s.detectDocumentFace(ctx, documentImage, draft)

	s.scoreLiveness(draft, selfieFace)
	s.scoreFaceMatch(draft, docFace, selfieFace)

	draft.UpdatedAt = requestcontext.Now(ctx)
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save draft")
	}

	sess.Advance(session.StepFinalize)
	sess.UpdatedAt = draft.UpdatedAt
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save session")
	}

	if s.metrics != nil {
		outcome := "failed"
		if draft.LivenessPassed && draft.FaceMatchPassed {
			outcome = "passed"
		}
		s.metrics.LivenessChecks.WithLabelValues(outcome).Inc()
	}

	return &Result{
		DraftID:         draft.ID.String(),
		AntispoofScore:  draft.AntispoofScore,
		LivenessScore:   draft.LivenessScore,
		FaceMatchScore:  draft.FaceMatchScore,
		LivenessPassed:  draft.LivenessPassed,
		FaceMatchPassed: draft.FaceMatchPassed,
		Issues:          models.Strings(draft.Issues),
	}, nil
}

// detectLargest finds the largest face in an image, recording the given issue
// when none is found or detection fails.
func (s *Service) detectLargest(ctx context.Context, image []byte, draft *models.IdentityDraft, missing models.Issue) *biometric.Face {
	faces, err := s.detector.Detect(ctx, image)
	if err != nil {
		s.logger.WarnContext(ctx, "face detection failed", "draft_id", draft.ID, "error", err)
		draft.AddIssue(missing)
		return nil
	}
	face := biometric.LargestFace(faces)
	if face == nil {
		draft.AddIssue(missing)
	}
	return face
}

// detectDocumentFace detects the face printed on the document. When a box is
// found, the region is cropped and re-detected for a cleaner embedding; crop
// failure falls back to the uncropped detection.
func (s *Service) detectDocumentFace(ctx context.Context, image []byte, draft *models.IdentityDraft) *biometric.Face {
	face := s.detectLargest(ctx, image, draft, models.IssueNoDocumentFace)
	if face == nil {
		return nil
	}

	cropped, err := s.detector.Crop(ctx, image, face.Box)
	if err != nil {
		s.logger.WarnContext(ctx, "document crop re-detection failed, using uncropped face",
			"draft_id", draft.ID,
			"error", err,
		)
		return face
	}
	if refined := biometric.LargestFace(cropped); refined != nil && len(refined.Embedding) > 0 {
		return refined
	}
	return face
}

func (s *Service) scoreLiveness(draft *models.IdentityDraft, selfie *biometric.Face) {
	if selfie == nil {
		draft.LivenessChecked = false
		draft.AntispoofScore = 0
		draft.LivenessScore = 0
		draft.LivenessPassed = false
		return
	}
	draft.LivenessChecked = true
	draft.AntispoofScore = selfie.AntispoofScore
	draft.LivenessScore = selfie.LivenessScore
	draft.LivenessPassed = selfie.AntispoofScore >= s.thresholds.Antispoof &&
		selfie.LivenessScore >= s.thresholds.Liveness
}

func (s *Service) scoreFaceMatch(draft *models.IdentityDraft, doc, selfie *biometric.Face) {
	draft.FaceMatchScore = 0
	draft.FaceMatchPassed = false
	if doc == nil || selfie == nil {
		return
	}
	if len(doc.Embedding) == 0 || len(selfie.Embedding) == 0 {
		draft.AddIssue(models.IssueEmbeddingMissing)
		return
	}
	draft.FaceMatchScore = biometric.CosineSimilarity(doc.Embedding, selfie.Embedding)
	draft.FaceMatchPassed = draft.FaceMatchScore >= s.thresholds.FaceMatch
}
