package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrLimitReached = fmt.Errorf("limit reached")
	ErrDisabled     = fmt.Errorf("disabled")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Orchestration sentinels.
var (
	ErrInvalidTransition = fmt.Errorf("invalid status transition")
	ErrAlreadyTerminated = fmt.Errorf("agent already terminated")
	ErrMessageExpired    = fmt.Errorf("message expired")
	ErrStoreUnavailable  = fmt.Errorf("store unavailable")
)

// Subsystem identifiers used with NewSubSystemError.
const (
	SubSystemAgent    = "agent"
	SubSystemParent   = "parent"
	SubSystemPersona  = "persona"
	SubSystemSpawn    = "spawn"
	SubSystemSubAgent = "subagent"
	SubSystemProtocol = "protocol"
	SubSystemRouter   = "router"
	SubSystemStore    = "store"
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Spawner.Spawn")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier; used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
// Use this with category sentinels (ErrNotFound, ErrLimitReached, etc.) so that
// ErrorCodeOf can map the combination of sentinel + subsystem to a specific ErrorCode.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCapacityError reports whether err rejected an operation because a
// concurrency cap was hit.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrLimitReached)
}

// ErrorCode is a machine-parseable error category for monitoring and API translation.
type ErrorCode string

const (
	CodeUnknown ErrorCode = "UNKNOWN"

	// Orchestration-specific codes.
	CodeAgentNotFound      ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate     ErrorCode = "AGENT_DUPLICATE"
	CodeParentNotFound     ErrorCode = "PARENT_NOT_FOUND"
	CodePersonaNotFound    ErrorCode = "PERSONA_NOT_FOUND"
	CodePersonaDuplicate   ErrorCode = "PERSONA_DUPLICATE"
	CodeSpawnLimit         ErrorCode = "SPAWN_LIMIT"
	CodeSubAgentLimit      ErrorCode = "SUBAGENT_LIMIT"
	CodeRouterRateLimit    ErrorCode = "ROUTER_RATE_LIMIT"
	CodeBroadcastDisabled  ErrorCode = "BROADCAST_DISABLED"
	CodeMessageInvalid     ErrorCode = "MESSAGE_INVALID"
	CodeMessageExpired     ErrorCode = "MESSAGE_EXPIRED"
	CodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	CodeAlreadyTerminated  ErrorCode = "ALREADY_TERMINATED"
	CodeStoreUnavailable   ErrorCode = "STORE_UNAVAILABLE"
	CodeChannelNotFound    ErrorCode = "CHANNEL_NOT_FOUND"
	CodeRecipientNotFound  ErrorCode = "RECIPIENT_NOT_FOUND"
	CodeRecipientNotActive ErrorCode = "RECIPIENT_TERMINATED"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeDuplicate    ErrorCode = "DUPLICATE"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeLimitReached ErrorCode = "LIMIT_REACHED"
	CodeDisabled     ErrorCode = "DISABLED"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:     CodeNotFound,
	ErrDuplicate:    CodeDuplicate,
	ErrTimeout:      CodeTimeout,
	ErrLimitReached: CodeLimitReached,
	ErrDisabled:     CodeDisabled,
	ErrInvalidInput: CodeInvalidInput,

	ErrInvalidTransition: CodeInvalidTransition,
	ErrAlreadyTerminated: CodeAlreadyTerminated,
	ErrMessageExpired:    CodeMessageExpired,
	ErrStoreUnavailable:  CodeStoreUnavailable,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		SubSystemAgent:   CodeAgentNotFound,
		SubSystemParent:  CodeParentNotFound,
		SubSystemPersona: CodePersonaNotFound,
		SubSystemRouter:  CodeRecipientNotFound,
		SubSystemStore:   CodeChannelNotFound,
	},
	ErrDuplicate: {
		SubSystemAgent:   CodeAgentDuplicate,
		SubSystemPersona: CodePersonaDuplicate,
	},
	ErrLimitReached: {
		SubSystemSpawn:    CodeSpawnLimit,
		SubSystemSubAgent: CodeSubAgentLimit,
		SubSystemRouter:   CodeRouterRateLimit,
	},
	ErrDisabled: {
		SubSystemRouter: CodeBroadcastDisabled,
	},
	ErrInvalidInput: {
		SubSystemProtocol: CodeMessageInvalid,
	},
	ErrAlreadyTerminated: {
		SubSystemRouter: CodeRecipientNotActive,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
