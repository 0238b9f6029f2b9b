package models

import (
	"time"

	id "attesto/pkg/domain"
)

// BundleStatus is the per-user rollup consumed by downstream authorization.
type BundleStatus string

const (
	BundlePending  BundleStatus = "pending"
	BundleVerified BundleStatus = "verified"
	BundleFailed   BundleStatus = "failed"
)

// FheStatus summarizes the encrypted-attribute layer for a user.
type FheStatus string

const (
	FhePending  FheStatus = "pending"
	FheComplete FheStatus = "complete"
	FheError    FheStatus = "error"
)

// IdentityBundle is the current best known verification state for a user.
// Upserted on every finalization attempt; later attempts supersede earlier
// values.
type IdentityBundle struct {
	UserID        id.UserID
	Status        BundleStatus
	IssuerID      string
	PolicyVersion string
	FHEKeyID      string
	FheStatus     FheStatus
	FheError      string
	UpdatedAt     time.Time
}
