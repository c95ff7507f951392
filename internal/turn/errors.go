package turn

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for turn-level terminal conditions.
var (
	// ErrTurnCancelled indicates a user-initiated cancel fired mid-turn.
	ErrTurnCancelled = errors.New("turn cancelled")

	// ErrTurnDeadline indicates the turn-wide deadline elapsed.
	ErrTurnDeadline = errors.New("turn deadline exceeded")

	// ErrNoProvider indicates no LLM provider was configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool handler exceeded its deadline.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool handler panicked.
	ErrToolPanic = errors.New("tool panicked")

	// ErrRoundsBounded indicates the tool loop hit its round limit.
	ErrRoundsBounded = errors.New("tool rounds bounded")

	// ErrContextLoopBounded indicates the context/memory round-trip
	// bound was exceeded.
	ErrContextLoopBounded = errors.New("context loop bounded")
)

// ErrorKind names the conceptual error kinds of spec.md §7. No Go type
// per kind is required; ErrorKind is used for classification and for
// the wire-level tool_result.error.kind / turn_end_error.reason fields.
type ErrorKind string

const (
	KindPromptUnresolved  ErrorKind = "prompt_unresolved"
	KindProviderTransport ErrorKind = "transport"
	KindToolBadArgs       ErrorKind = "bad_args"
	KindToolForbidden     ErrorKind = "forbidden"
	KindToolForbiddenPath ErrorKind = "forbidden_path"
	KindToolTimeout       ErrorKind = "timeout"
	KindToolHandler       ErrorKind = "execution"
	KindToolInvalidResult ErrorKind = "invalid_result"
	KindJSONParseFailed   ErrorKind = "json_parse_failed"
	KindBoundedLoop       ErrorKind = "bounded_loop"
	KindWorldWriteFailed  ErrorKind = "internal"
	KindCancelled         ErrorKind = "cancelled"
	KindDeadline          ErrorKind = "deadline"
)

// IsRetryable reports whether this kind of tool error is worth a
// single provider-level retry (spec.md §4.5 transient classes).
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case KindProviderTransport, KindToolTimeout:
		return true
	default:
		return false
	}
}

// ToolError is a structured error produced by a failed tool call. It
// is never fatal to the turn (spec.md §4.3): the tool loop always
// converts it into a ToolResult and injects it as a tool message.
type ToolError struct {
	Kind       ErrorKind
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Attempts   int
}

func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Kind))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}
	return strings.Join(parts, " ")
}

func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError classifies cause into a ToolError with a best-effort
// Kind, the way internal/agent/errors.go classifies ToolError.Type.
func NewToolError(toolName string, cause error) *ToolError {
	te := &ToolError{ToolName: toolName, Cause: cause, Kind: KindToolHandler, Attempts: 1}
	if cause != nil {
		te.Message = cause.Error()
		te.Kind = classifyCause(cause)
	}
	return te
}

func classifyCause(err error) ErrorKind {
	if err == nil {
		return KindToolHandler
	}
	if errors.Is(err, ErrToolNotFound) {
		return KindToolBadArgs
	}
	if errors.Is(err, ErrToolTimeout) {
		return KindToolTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return KindToolHandler
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "forbidden path"):
		return KindToolForbiddenPath
	case strings.Contains(s, "timeout") || strings.Contains(s, "deadline exceeded"):
		return KindToolTimeout
	case strings.Contains(s, "connection") || strings.Contains(s, "network") || strings.Contains(s, "refused"):
		return KindProviderTransport
	case strings.Contains(s, "invalid") || strings.Contains(s, "required") || strings.Contains(s, "missing"):
		return KindToolBadArgs
	default:
		return KindToolHandler
	}
}

// ToResult converts a ToolError into the wire-level ToolResult shape
// injected back into the provider message list.
func (e *ToolError) ToResult() ToolResult {
	return ToolResult{OK: false, Error: &ToolResultErr{Kind: string(e.Kind), Message: e.Message}}
}

// StageError records which phase/stage an error surfaced in. Most
// StageErrors become issues on the turn rather than propagating as Go
// errors past the graph executor (spec.md §4.1 Failure semantics).
type StageError struct {
	StageID string
	Kind    ErrorKind
	Message string
	Cause   error
	// Fatal marks errors that should end the turn outright rather than
	// being recorded as an issue and routed around (emitter failure,
	// unhandled panic, transport exhaustion after the answer stage).
	Fatal bool
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stage %s: %s: %s", e.StageID, e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.StageID, e.Kind, e.Cause)
	}
	return fmt.Sprintf("stage %s: %s", e.StageID, e.Kind)
}

func (e *StageError) Unwrap() error { return e.Cause }

// IsToolError reports whether err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var te *ToolError
	return errors.As(err, &te)
}

// GetToolError extracts a *ToolError from err's chain.
func GetToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
