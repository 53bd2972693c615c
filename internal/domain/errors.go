package domain

import "errors"

// Sentinel errors shared by every component. Callers wrap them with
// fmt.Errorf("...: %w", ...) and classify with Kind.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrAgentNotFound      = errors.New("agent not registered")
	ErrAlreadyTerminal    = errors.New("work item already terminal")
	ErrCapacityExceeded   = errors.New("agent capacity exceeded")
	ErrCorruptState       = errors.New("corrupt coordination state")
	ErrAdvisorUnavailable = errors.New("advisor unavailable")
	ErrLockTimeout        = errors.New("lock acquisition timed out")
)

// Error kinds recorded in span attributes and API error codes.
const (
	KindValidation         = "validation"
	KindNotFound           = "not_found"
	KindAgentNotFound      = "agent_not_found"
	KindAlreadyTerminal    = "already_terminal"
	KindCapacityExceeded   = "capacity_exceeded"
	KindCorruptState       = "corrupt_state"
	KindAdvisorUnavailable = "advisor_unavailable"
	KindLockTimeout        = "lock_timeout"
	KindInternal           = "internal"
)

// Kind classifies err by the first sentinel it wraps. Agent-not-found is
// checked before not-found because it is the more specific condition.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAgentNotFound):
		return KindAgentNotFound
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAlreadyTerminal):
		return KindAlreadyTerminal
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrCorruptState):
		return KindCorruptState
	case errors.Is(err, ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, ErrAdvisorUnavailable):
		return KindAdvisorUnavailable
	default:
		return KindInternal
	}
}
