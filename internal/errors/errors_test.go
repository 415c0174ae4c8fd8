package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := InvalidInput("fdr must be BH or BY")
	wrapped := Wrap(base, "critical p")

	assert.Equal(t, CodeInvalidInput, GetCode(wrapped))
	assert.Contains(t, wrapped.Error(), "fdr must be BH or BY")
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("merge: %w", StructuralMismatch("keys differ"))

	assert.True(t, HasCode(err, CodeStructuralMismatch))
	assert.True(t, IsAppError(err))
}

func TestGetCodeUnknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(fmt.Errorf("plain")))
	assert.False(t, HasCode(nil, CodeInvalidInput))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWithCode(t *testing.T) {
	err := WithCode(CodePersistence, fmt.Errorf("disk full"))
	assert.Equal(t, CodePersistence, GetCode(err))
	assert.Contains(t, err.Error(), "disk full")
}
