package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Taxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"invalid address", ErrInvalidAddressFormat, ErrorInvalid},
		{"empty text", ErrEmptyTextMessage, ErrorInvalid},
		{"message not found", ErrMessageNotFound, ErrorInvalid},
		{"send failed", ErrSendFailed, ErrorTransient},
		{"edit failed", ErrEditFailed, ErrorTransient},
		{"media processing", ErrMediaProcessingFailed, ErrorTransient},
		{"socket reinit", ErrSocketReinitFailed, ErrorFatal},
		{"unknown", New("something else"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_SurvivesWrapping(t *testing.T) {
	wrapped := Wrap(ErrInvalidAddressFormat, "SendPipeline", "Send", "destination normalization")

	require.Error(t, wrapped)
	assert.True(t, Is(wrapped, ErrInvalidAddressFormat))
	assert.True(t, IsInvalid(wrapped))
	assert.False(t, IsTransient(wrapped))
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(ErrSendFailed, "SendPipeline", "Send", "dispatch")
	assert.Equal(t, "SendPipeline.Send: dispatch failed: message send failed", err.Error())

	assert.Nil(t, Wrap(nil, "X", "Y", "z"))
}

func TestWrapClassified(t *testing.T) {
	base := fmt.Errorf("socket gone")

	tr := WrapTransient(base, "Session", "reinit", "socket build")
	inv := WrapInvalid(base, "Session", "reinit", "socket build")
	fat := WrapFatal(base, "Session", "reinit", "socket build")

	assert.True(t, IsTransient(tr))
	assert.True(t, IsInvalid(inv))
	assert.True(t, IsFatal(fat))

	var ce *ClassifiedError
	require.True(t, As(fat, &ce))
	assert.Equal(t, "Session", ce.Component)
	assert.Equal(t, base, ce.Err)
}

func TestIsHelpers_NilSafe(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsFatal(nil))
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestContains(t *testing.T) {
	err := New("Stream Errored (conflict)")
	assert.True(t, Contains(err, "stream errored"))
	assert.False(t, Contains(nil, "anything"))
}
