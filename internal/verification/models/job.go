package models

import (
	"encoding/json"
	"time"

	id "attesto/pkg/domain"
)

// JobStatus is the lifecycle state of a verification job.
// Legal transitions: queued -> running -> {complete, error}. A job is never
// retried in place once terminal; a retry is a new job row.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobError    JobStatus = "error"
)

// Active reports whether the job may still be (re)scheduled under its
// existing id.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning
}

// VerificationJob is one finalization attempt for a draft.
type VerificationJob struct {
	ID       id.JobID
	DraftID  id.DraftID
	UserID   id.UserID
	FHEKeyID string

	Status       JobStatus
	Attempts     int
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Result       json.RawMessage
	ErrorMessage string

	CreatedAt time.Time
}

// JobResult is the payload persisted on job completion and returned from
// status polling.
type JobResult struct {
	Verified  bool      `json:"verified"`
	FheStatus FheStatus `json:"fheStatus"`
	FheErrors []string  `json:"fheErrors,omitempty"`
	Issues    []string  `json:"issues"`
	Claims    []string  `json:"claims"`
	Document  string    `json:"documentId,omitempty"`
}
