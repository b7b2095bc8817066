package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesOriginal(t *testing.T) {
	err := Clone(ErrNotFound, "report job not found")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))
	assert.Equal(t, "report job not found", err.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)

	wrapped := fmt.Errorf("load: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.Status)
	assert.Equal(t, "internal server error: boom", plain.Error())

	typed := FromError(fmt.Errorf("render: %w", ErrNothingToExport))
	assert.Equal(t, http.StatusUnprocessableEntity, typed.Status)
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("redis down")
	err := Wrap(cause, ErrInternal.Code, ErrInternal.Status, "cache failed")
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInternal)
}
