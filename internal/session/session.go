// Package session models the onboarding session that scopes a verification
// attempt. The session is resolved by transport middleware and passed
// explicitly into every operation; services never reach into cookies.
package session

import (
	"time"

	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
)

// Step is the onboarding wizard position. An operation is accessible once
// the session has reached its step; completing it advances the pointer.
type Step int

const (
	StepDocument Step = 1
	StepLiveness Step = 2
	StepFinalize Step = 3
)

// Session is the onboarding session state.
type Session struct {
	ID        id.SessionID
	UserID    id.UserID  // nil UUID until an account exists
	DraftID   id.DraftID // nil UUID until document intake creates the draft
	Step      Step
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateStepAccess rejects operations the session has not unlocked yet.
func ValidateStepAccess(s *Session, required Step) error {
	if s == nil {
		return dErrors.New(dErrors.CodeForbidden, "no onboarding session")
	}
	if s.Step < required {
		return dErrors.Newf(dErrors.CodeForbidden, "onboarding step %d not reached", required)
	}
	return nil
}

// Advance moves the step pointer forward, never backward.
func (s *Session) Advance(step Step) {
	if step > s.Step {
		s.Step = step
	}
}
