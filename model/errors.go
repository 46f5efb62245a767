package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Workflow-specific error codes.
const (
	ErrMissingInput         = "MISSING_INPUT"
	ErrRepositoryNotFound   = "REPOSITORY_NOT_FOUND"
	ErrLLMConfigInvalid     = "LLM_CONFIG_INVALID"
	ErrWorkflowTerminal     = "WORKFLOW_TERMINAL"
	ErrUnknownWorkflowState = "UNKNOWN_WORKFLOW_STATE"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewMissingInputError returns a MISSING_INPUT error naming the stage whose
// prep step lacked required prior-stage data.
func NewMissingInputError(stage, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrMissingInput,
		Message: fmt.Sprintf("stage %s: %s", stage, msg),
	}
}

// NewRepositoryNotFoundError returns a REPOSITORY_NOT_FOUND error.
func NewRepositoryNotFoundError(ref string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRepositoryNotFound,
		Message: fmt.Sprintf("repository %q not found or not accessible", ref),
	}
}

// NewLLMConfigInvalidError returns an LLM_CONFIG_INVALID error.
func NewLLMConfigInvalidError(configID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrLLMConfigInvalid,
		Message: fmt.Sprintf("LLM configuration %q is not registered", configID),
	}
}

// NewWorkflowTerminalError returns a WORKFLOW_TERMINAL error for advance
// calls on a run that has already completed or failed.
func NewWorkflowTerminalError(runID, status string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWorkflowTerminal,
		Message: fmt.Sprintf("workflow run %q is %s and cannot be advanced", runID, status),
	}
}

// NewUnknownWorkflowStateError returns an UNKNOWN_WORKFLOW_STATE error for
// a run whose persisted state does not map to any next stage.
func NewUnknownWorkflowStateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnknownWorkflowState, Message: msg}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "An upstream service is temporarily unavailable",
	}
}
