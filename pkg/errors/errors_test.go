package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "item with cause",
			err:  Item(3, errors.New("boom")),
			want: "item error (item 3): work function failed: boom",
		},
		{
			name: "checkpoint with cause",
			err:  Checkpoint("failed to write", errors.New("disk full")),
			want: "checkpoint error: failed to write: disk full",
		},
		{
			name: "no cause",
			err:  New(ErrorTypeConfig, "max workers must be positive", nil),
			want: "config error: max workers must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapAndType(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("context: %w", Timeout("deadline", cause))

	assert.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, ErrorTypeTimeout, TypeOf(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypeTimeout))
	assert.False(t, IsType(wrapped, ErrorTypeCheckpoint))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(cause))
}

func TestIsTypeNested(t *testing.T) {
	inner := Timeout("command timed out", nil)
	outer := Item(7, inner)

	assert.True(t, IsType(outer, ErrorTypeItem))
	assert.True(t, IsType(outer, ErrorTypeTimeout))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		want      bool
	}{
		{ErrorTypeTimeout, true},
		{ErrorTypeCommand, true},
		{ErrorTypeCheckpoint, true},
		{ErrorTypeUnknown, true},
		{ErrorTypeCancelled, false},
		{ErrorTypeConfig, false},
		{ErrorTypeMemorySample, false},
		{ErrorTypeItem, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.errorType))
		})
	}
}
