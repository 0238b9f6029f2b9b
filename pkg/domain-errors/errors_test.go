package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeForbidden, "step not reached")
		assert.True(t, HasCode(err, CodeForbidden))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeConflict, "duplicate"))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("foreign error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("plain"), CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil cause returns nil", func(t *testing.T) {
		require.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("preserves cause for errors.Is", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeUnavailable, "fhe service unreachable")
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, CodeUnavailable, CodeOf(err))
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeRateLimited, CodeOf(New(CodeRateLimited, "slow down")))
}
