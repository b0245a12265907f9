package merrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindsAreDistinguishableWithErrorsAs(t *testing.T) {
	err := NewInvalidArgument("bad %s", "thing")

	var invalidArgument *InvalidArgument
	assert.True(t, errors.As(err, &invalidArgument))
	assert.Equal(t, "bad thing", invalidArgument.Message)

	var invalidState *InvalidState
	assert.False(t, errors.As(err, &invalidState))
}

func TestNotFoundMessage(t *testing.T) {
	err := NewNotFound("producer with id %q not found", "abc")
	assert.EqualError(t, err, `not found: producer with id "abc" not found`)
}

func TestMessageTooBigFields(t *testing.T) {
	err := NewMessageTooBig(100, 50)
	var tooBig *MessageTooBig
	assert.True(t, errors.As(err, &tooBig))
	assert.Equal(t, 100, tooBig.Size)
	assert.Equal(t, 50, tooBig.Max)
}

func TestWorkerExitedReportsWrongSettingsCode(t *testing.T) {
	err := &WorkerExited{Pid: 1234, Code: 42}
	assert.Contains(t, err.Error(), "wrong settings")
}

func TestWorkerExitedReportsGenericCode(t *testing.T) {
	err := &WorkerExited{Pid: 1234, Code: 1}
	assert.Contains(t, err.Error(), "before it was ready")
}

func TestChannelClosedIsSingletonShaped(t *testing.T) {
	err := NewChannelClosed()
	assert.EqualError(t, err, "channel closed")
}
