package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Spawner.Spawn", ErrLimitReached, "10 active")
	want := "Spawner.Spawn: 10 active: limit reached"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Lifecycle.Terminate", ErrAlreadyTerminated, "")
	want := "Lifecycle.Terminate: agent already terminated"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDomainError("Router.Route", ErrMessageExpired, "m-1"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Router.Route" {
		t.Errorf("Op = %q, want %q", de.Op, "Router.Route")
	}
	if !errors.Is(err, ErrMessageExpired) {
		t.Error("errors.Is should match ErrMessageExpired")
	}
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeInvalidTransition, ErrorCodeOf(ErrInvalidTransition))
	assert.Equal(t, CodeMessageExpired, ErrorCodeOf(ErrMessageExpired))
	assert.Equal(t, CodeLimitReached, ErrorCodeOf(ErrLimitReached))
	assert.Equal(t, CodeStoreUnavailable, ErrorCodeOf(ErrStoreUnavailable))
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		subsystem string
		sentinel  error
		want      ErrorCode
	}{
		{SubSystemAgent, ErrNotFound, CodeAgentNotFound},
		{SubSystemParent, ErrNotFound, CodeParentNotFound},
		{SubSystemPersona, ErrNotFound, CodePersonaNotFound},
		{SubSystemRouter, ErrNotFound, CodeRecipientNotFound},
		{SubSystemAgent, ErrDuplicate, CodeAgentDuplicate},
		{SubSystemPersona, ErrDuplicate, CodePersonaDuplicate},
		{SubSystemSpawn, ErrLimitReached, CodeSpawnLimit},
		{SubSystemSubAgent, ErrLimitReached, CodeSubAgentLimit},
		{SubSystemRouter, ErrLimitReached, CodeRouterRateLimit},
		{SubSystemRouter, ErrDisabled, CodeBroadcastDisabled},
		{SubSystemProtocol, ErrInvalidInput, CodeMessageInvalid},
		{SubSystemRouter, ErrAlreadyTerminated, CodeRecipientNotActive},
		// no subsystem mapping: falls back to the category code
		{SubSystemSpawn, ErrNotFound, CodeNotFound},
		{SubSystemAgent, ErrInvalidTransition, CodeInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(string(tt.want)+"/"+tt.subsystem, func(t *testing.T) {
			err := NewSubSystemError(tt.subsystem, "Op", tt.sentinel, "x")
			assert.Equal(t, tt.want, ErrorCodeOf(err))
			assert.Equal(t, tt.want, ErrorCodeOf(WrapOp("outer", err)), "wrapping keeps the code")
		})
	}
}

func TestErrorCodeOf_UnknownAndNil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, NewDomainError("Op", fmt.Errorf("custom"), "").Code())
}

func TestErrorCodeOf_WrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrAlreadyTerminated)
	assert.Equal(t, CodeAlreadyTerminated, ErrorCodeOf(wrapped))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestNewSubSystemError_Format(t *testing.T) {
	err := NewSubSystemError(SubSystemSpawn, "Spawner.Spawn", ErrLimitReached, "3/3")
	// SubSystem is metadata, not included in Error() output.
	assert.Equal(t, "Spawner.Spawn: 3/3: limit reached", err.Error())
	assert.Equal(t, SubSystemSpawn, err.SubSystem)
	assert.True(t, IsCapacityError(err))
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("Outer", WrapOp("Inner", ErrNotFound))
	assert.Equal(t, "Outer: Inner: not found", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIsCapacityError(t *testing.T) {
	assert.True(t, IsCapacityError(fmt.Errorf("x: %w", ErrLimitReached)))
	assert.False(t, IsCapacityError(ErrNotFound))
	assert.False(t, IsCapacityError(nil))
}
