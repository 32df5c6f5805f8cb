package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "resource not found"},
			want: "resource not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "failed to process",
				Cause:   errors.New("underlying error"),
			},
			want: "failed to process: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeAIProvider, "call provider")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeAIProvider, GetCode(err))
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestIs_ThroughWrapping(t *testing.T) {
	base := Newf(ErrCodeMissingRubric, "rubric %s not found", "r-1")
	wrapped := fmt.Errorf("score sections: %w", base)

	assert.True(t, Is(wrapped, ErrCodeMissingRubric))
	assert.False(t, Is(wrapped, ErrCodeMissingSection))
	assert.Equal(t, "rubric r-1 not found", base.Error())
}

func TestValidationField(t *testing.T) {
	err := ValidationField("input", "input is required")

	assert.True(t, IsValidation(err))
	assert.Equal(t, "input", GetField(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsConflict(err))
}

func TestGetCode_NonAppError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Empty(t, GetField(errors.New("plain")))
}
