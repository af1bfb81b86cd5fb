package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	assert.True(t, CodeTimeout.Retryable())
	assert.True(t, CodeInternal.Retryable())
	for _, c := range []Code{
		CodeNoRoute, CodeInsufficientCapacity, CodeTrustLimitExceeded,
		CodeTrustLineNotActive, CodeInvalidSignature, CodeInsufficientRights,
		CodeConflict, CodeInvalidInput,
	} {
		assert.False(t, c.Retryable(), "%s must not be retryable", c)
	}
}

func TestCodeValid(t *testing.T) {
	assert.True(t, CodeConflict.Valid())
	assert.False(t, Code("E011").Valid())
	assert.False(t, Code("").Valid())
}

func TestErrorString(t *testing.T) {
	err := Conflict("edge moved", map[string]any{"b": 2, "a": 1})
	// Details render sorted by key.
	assert.Equal(t, "E008: edge moved (a=1 b=2)", err.Error())

	wrapped := Wrap(CodeInternal, "query failed", errors.New("boom"))
	assert.Equal(t, "E010: query failed: boom", wrapped.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("stale", nil))
	assert.True(t, errors.Is(err, Conflict("anything", nil)))
	assert.False(t, errors.Is(err, Timeout("anything")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNoRoute, CodeOf(NoRoute("nothing", nil)))
	assert.Equal(t, CodeInvalidInput, CodeOf(fmt.Errorf("wrapped: %w", InvalidInput("bad", nil))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	original := InsufficientCapacity("thin edge", map[string]any{"available": "3"})
	same := AsError(fmt.Errorf("wrapped: %w", original))
	require.NotNil(t, same)
	assert.Equal(t, CodeInsufficientCapacity, same.Code)
	assert.Equal(t, "thin edge", same.Message)

	converted := AsError(errors.New("disk on fire"))
	assert.Equal(t, CodeInternal, converted.Code)
	assert.ErrorContains(t, converted, "disk on fire")
}

func TestDetailsOf(t *testing.T) {
	err := InvalidInput("bad depth", map[string]any{"max_depth": 42})
	details := DetailsOf(fmt.Errorf("wrapped: %w", err))
	require.NotNil(t, details)
	assert.Equal(t, 42, details["max_depth"])
	assert.Nil(t, DetailsOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("store unavailable", cause)
	assert.ErrorIs(t, err, cause)
}
