package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeQuotaExceeded, CodeOf(New(CodeQuotaExceeded, "too many labs")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("raw")))

	wrapped := fmt.Errorf("handler: %w", New(CodeAccessDenied, "no"))
	assert.Equal(t, CodeAccessDenied, CodeOf(wrapped))
}

func TestMessageOfNeverLeaksCause(t *testing.T) {
	cause := errors.New("dial tcp 172.20.0.1: connection refused")
	err := Wrap(CodeContainerRuntimeError, "Failed to start dvwa.", cause)

	assert.Equal(t, "Failed to start dvwa.", MessageOf(err))
	assert.Contains(t, err.Error(), "connection refused", "full detail stays available for logs")
	assert.True(t, errors.Is(err, cause))
}

func TestMessageOfUnknownError(t *testing.T) {
	assert.Equal(t, "Something went wrong. Please try again.", MessageOf(errors.New("boom")))
}

func TestIs(t *testing.T) {
	err := Newf(CodeLabTypeNotFound, "Unknown lab type %q.", "xyz")
	assert.True(t, Is(err, CodeLabTypeNotFound))
	assert.False(t, Is(err, CodeLabNotFound))
}
