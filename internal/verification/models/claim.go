package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	id "attesto/pkg/domain"
)

// ClaimType enumerates the server-attested claim payloads.
type ClaimType string

const (
	ClaimOCRResult      ClaimType = "ocr_result"
	ClaimLivenessScore  ClaimType = "liveness_score"
	ClaimFaceMatchScore ClaimType = "face_match_score"
)

// SignedClaim is an append-only tamper-evident record. The payload embeds a
// documentHashField binding and, where relevant, a claimHash derived from the
// claimed value and that same field, so a claim is verifiable without the
// draft it came from and cannot be replayed against another document.
type SignedClaim struct {
	ID         uuid.UUID
	UserID     id.UserID
	DocumentID id.DocumentID
	ClaimType  ClaimType
	Payload    json.RawMessage
	Signature  string
	IssuedAt   time.Time
}

// OCRClaimPayload attests document metadata together with claim hashes
// binding each value to the document hash field.
type OCRClaimPayload struct {
	DocumentType      string            `json:"documentType"`
	IssuingCountry    string            `json:"issuingCountry"`
	DocumentHashField string            `json:"documentHashField"`
	BirthYear         int               `json:"birthYear,omitempty"`
	ExpiryDate        int64             `json:"expiryDate,omitempty"`
	NationalityNum    int               `json:"nationalityNumeric,omitempty"`
	ClaimHashes       map[string]string `json:"claimHashes"`
}

// LivenessClaimPayload attests the server-computed liveness outcome.
// Scores are fixed-point (value x 10000) because the signer expects integers.
type LivenessClaimPayload struct {
	DocumentHashField string `json:"documentHashField"`
	AntispoofScore    int64  `json:"antispoofScore"`
	LivenessScore     int64  `json:"livenessScore"`
	Passed            bool   `json:"passed"`
}

// FaceMatchClaimPayload attests the face-match confidence with its own claim
// hash over the fixed-point confidence value.
type FaceMatchClaimPayload struct {
	DocumentHashField string `json:"documentHashField"`
	Confidence        int64  `json:"confidence"`
	Threshold         int64  `json:"threshold"`
	Passed            bool   `json:"passed"`
	ClaimHash         string `json:"claimHash"`
}

// FixedPoint converts a 0..1 score into the integer representation used in
// claim payloads.
func FixedPoint(score float64) int64 {
	return int64(score * 10000)
}
