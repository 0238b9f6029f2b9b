package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "attesto/pkg/domain"
	dErrors "attesto/pkg/domain-errors"
)

func TestValidateStepAccess(t *testing.T) {
	t.Run("nil session is forbidden", func(t *testing.T) {
		err := ValidateStepAccess(nil, StepDocument)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("step not reached is forbidden", func(t *testing.T) {
		sess := &Session{ID: id.NewSessionID(), Step: StepDocument}
		err := ValidateStepAccess(sess, StepFinalize)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	t.Run("reached step is allowed", func(t *testing.T) {
		sess := &Session{ID: id.NewSessionID(), Step: StepLiveness}
		assert.NoError(t, ValidateStepAccess(sess, StepLiveness))
		assert.NoError(t, ValidateStepAccess(sess, StepDocument))
	})
}

func TestAdvance(t *testing.T) {
	sess := &Session{Step: StepDocument}

	sess.Advance(StepLiveness)
	assert.Equal(t, StepLiveness, sess.Step)

	// Never moves backward.
	sess.Advance(StepDocument)
	assert.Equal(t, StepLiveness, sess.Step)
}
