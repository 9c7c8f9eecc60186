package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound = fmt.Errorf("tool not found")
	ErrToolFailure  = fmt.Errorf("tool execution failed")
	ErrSSRFBlocked  = fmt.Errorf("request to private/reserved IP blocked")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrEncryption   = fmt.Errorf("encryption operation failed")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
	ErrAuditWrite   = fmt.Errorf("failed to write audit event")

	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox")

	// Process execution errors.
	ErrLaunchFailed      = fmt.Errorf("failed to launch interpreter")
	ErrStreamAcquisition = fmt.Errorf("failed to acquire output stream")
	ErrKillFailed        = fmt.Errorf("failed to terminate process")

	// Code-edit errors.
	ErrApplyRejected = fmt.Errorf("edit rejected")
	ErrApplyWrite    = fmt.Errorf("failed to write edited file")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Executor.ExecuteBlocking")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "process", "search"); used for ErrorCode dispatch
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
// Use this with category sentinels (ErrNotFound, ErrTimeout, etc.) so that ErrorCodeOf
// can map the combination of sentinel + subsystem to a specific ErrorCode.
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

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure       ErrorCode = "TOOL_FAILURE"
	CodeSSRFBlocked       ErrorCode = "SSRF_BLOCKED"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuditWrite        ErrorCode = "AUDIT_WRITE"
	CodePathOutside       ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeProcessLaunch     ErrorCode = "PROCESS_LAUNCH"
	CodeProcessStream     ErrorCode = "PROCESS_STREAM"
	CodeProcessKill       ErrorCode = "PROCESS_KILL"
	CodeApplyRejected     ErrorCode = "APPLY_REJECTED"
	CodeApplyWrite        ErrorCode = "APPLY_WRITE"
	CodeProcessNotFound   ErrorCode = "PROCESS_NOT_FOUND"
	CodeProcessTimeout    ErrorCode = "PROCESS_TIMEOUT"
	CodeApplyProvider     ErrorCode = "APPLY_PROVIDER"
	CodeApplyInvalid      ErrorCode = "APPLY_INVALID_INPUT"
	CodeSearchProvider    ErrorCode = "SEARCH_PROVIDER"
	CodeSearchDisabled    ErrorCode = "SEARCH_DISABLED"
	CodeFetchProvider     ErrorCode = "FETCH_PROVIDER"
	CodeFetchTimeout      ErrorCode = "FETCH_TIMEOUT"
	CodeFetchLimitReached ErrorCode = "FETCH_BODY_TOO_LARGE"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisabled         ErrorCode = "DISABLED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrDisabled:         CodeDisabled,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,

	ErrToolNotFound: CodeToolNotFound,
	ErrToolFailure:  CodeToolFailure,
	ErrSSRFBlocked:  CodeSSRFBlocked,
	ErrConfigLoad:   CodeConfigLoad,
	ErrDecryption:   CodeDecryption,
	ErrEncryption:   CodeEncryption,
	ErrRateLimit:    CodeRateLimit,
	ErrAuditWrite:   CodeAuditWrite,

	ErrPathOutsideSandbox: CodePathOutside,
	ErrLaunchFailed:       CodeProcessLaunch,
	ErrStreamAcquisition:  CodeProcessStream,
	ErrKillFailed:         CodeProcessKill,
	ErrApplyRejected:      CodeApplyRejected,
	ErrApplyWrite:         CodeApplyWrite,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"process": CodeProcessNotFound,
	},
	ErrTimeout: {
		"process": CodeProcessTimeout,
		"fetch":   CodeFetchTimeout,
	},
	ErrLimitReached: {
		"fetch": CodeFetchLimitReached,
	},
	ErrDisabled: {
		"search": CodeSearchDisabled,
	},
	ErrInvalidInput: {
		"apply": CodeApplyInvalid,
	},
	ErrProviderError: {
		"apply":  CodeApplyProvider,
		"search": CodeSearchProvider,
		"fetch":  CodeFetchProvider,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// For DomainErrors with a SubSystem, it also checks the subSystemCodeMap
// to resolve category sentinels to specific codes.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

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
