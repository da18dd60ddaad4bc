package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorIsMatchesWrappedCopies(t *testing.T) {
	err := fmt.Errorf("store: %w", ErrSessionNotFound.WithCause(errors.New("no rows")))

	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.False(t, errors.Is(err, ErrPersonaNotFound))
	assert.Equal(t, ErrCodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "[NOT_FOUND] session not found: no rows")
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternalError, CodeOf(errors.New("boom")))
}
