package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// UserMessage returns the message of the outermost AppError in err's chain,
// falling back to err.Error() for foreign errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Error codes
const (
	ErrCodeAuthFailed              = "AUTH_FAILED"
	ErrCodeMalformedRequest        = "MALFORMED_REQUEST"
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeBridgeNotInitialized    = "TOOL_BRIDGE_NOT_INITIALIZED"
	ErrCodeToolNotFound            = "TOOL_NOT_FOUND"
	ErrCodeToolTransport           = "TOOL_TRANSPORT_FAILED"
	ErrCodeToolExecution           = "TOOL_EXECUTION_FAILED"
	ErrCodeUnsupportedTransport    = "UNSUPPORTED_TRANSPORT"
	ErrCodeDuplicateTool           = "DUPLICATE_TOOL"
	ErrCodeSessionStoreUnavailable = "SESSION_STORE_UNAVAILABLE"
	ErrCodeAgentRuntime            = "AGENT_RUNTIME_FAILED"
	ErrCodeAgentConfig             = "AGENT_CONFIG_INVALID"
	ErrCodeChatDelivery            = "CHAT_DELIVERY_FAILED"
)
