package models

import (
	"time"

	"github.com/google/uuid"

	id "attesto/pkg/domain"
)

// AttributeType enumerates the sensitive attributes stored under FHE.
type AttributeType string

const (
	AttributeBirthYearOffset AttributeType = "birth_year_offset"
	AttributeCountryCode     AttributeType = "country_code"
	AttributeLivenessScore   AttributeType = "liveness_score"
)

// EncryptedAttribute is an append-only ciphertext record. Never updated and
// never decrypted server-side.
type EncryptedAttribute struct {
	ID            uuid.UUID
	UserID        id.UserID
	Source        string
	AttributeType AttributeType
	Ciphertext    string
	KeyID         string
	CreatedAt     time.Time
}
