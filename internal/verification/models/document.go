package models

import (
	"time"

	id "attesto/pkg/domain"
)

// DocumentStatus is the terminal outcome recorded on an identity document.
type DocumentStatus string

const (
	DocumentVerified DocumentStatus = "verified"
	DocumentFailed   DocumentStatus = "failed"
)

// IdentityDocument is the immutable finalized record. Created exactly once
// per successful finalization and never mutated afterwards.
type IdentityDocument struct {
	ID             id.DocumentID
	UserID         id.UserID
	DocumentType   string
	IssuingCountry string

	// DocumentHash is empty for duplicate submissions so the same commitment
	// never backs two verified documents.
	DocumentHash string

	NameCommitment     string
	EncryptedUserSalt  string
	BirthYearOffset    int
	EncryptedFirstName string
	Confidence         float64

	Status     DocumentStatus
	VerifiedAt time.Time
}
