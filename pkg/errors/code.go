package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Execution pipeline errors
// 21000-21999: Sandbox & limiter errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Execution Errors (20000-20999) ==========

	// Admission (20000-20099)
	ExecutionBusy ErrorCode = 20000

	// Request (20100-20199)
	UnsupportedLanguage ErrorCode = 20100
	InvalidLimits       ErrorCode = 20101
	ReservedEnvVar      ErrorCode = 20102
	CodeTooLarge        ErrorCode = 20103

	// Preparation (20200-20299)
	DependencyInstallFailed ErrorCode = 20200
	CompilationFailed       ErrorCode = 20201
	InvalidDependency       ErrorCode = 20202

	// ========== Sandbox Errors (21000-21999) ==========

	SandboxSetupFailed    ErrorCode = 21000
	SandboxTeardownFailed ErrorCode = 21001
	SpawnFailed           ErrorCode = 21002
	LimiterFailed         ErrorCode = 21003
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	ExecutionBusy: "Execution capacity exhausted, please try again later",

	UnsupportedLanguage: "Programming language not supported",
	InvalidLimits:       "Resource limits are invalid",
	ReservedEnvVar:      "Environment variable is reserved",
	CodeTooLarge:        "Code is too large",

	DependencyInstallFailed: "Dependency installation failed",
	CompilationFailed:       "Compilation failed",
	InvalidDependency:       "Invalid dependency",

	SandboxSetupFailed:    "Sandbox setup failed",
	SandboxTeardownFailed: "Sandbox teardown failed",
	SpawnFailed:           "Failed to spawn process",
	LimiterFailed:         "Failed to apply resource limits",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == NotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == ExecutionBusy:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c >= 20100 && c < 20300: // Request errors
		return http.StatusBadRequest
	case c == InvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
