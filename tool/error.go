package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

const (
	// ErrorCodeUnknownTool is returned when the requested tool is not in the catalog.
	ErrorCodeUnknownTool = "UNKNOWN_TOOL"
	// ErrorCodeInvalidCatalog is returned when a tools/list response cannot be used.
	ErrorCodeInvalidCatalog = "INVALID_CATALOG"
	// ErrorCodeDecodeFailure is returned when a worker result is not valid JSON.
	ErrorCodeDecodeFailure = "DECODE_FAILURE"
	// ErrorCodeInvocationFailed is a generic fallback for invocation failures.
	ErrorCodeInvocationFailed = "INVOCATION_FAILED"
)

// ToolError is a structured error carrying a machine-readable code.
type ToolError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ErrorCodeInvocationFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newToolError(code, message string, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ErrorCodeInvocationFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{Code: cleanCode, Message: cleanMsg, Cause: cause}
}

// ErrorCode returns the machine-readable code for err, looking through
// ToolError and the rpc error kinds. It returns "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr != nil {
		return toolErr.Code
	}
	if code := rpc.ErrorCode(err); code != "" {
		return code
	}
	return ErrorCodeInvocationFailed
}

// UserMessage turns an invocation failure into text suitable for the end
// user. Each failure kind reads differently so the user can tell a missing
// worker from a slow one.
func UserMessage(toolName string, err error) string {
	if err == nil {
		return ""
	}

	var (
		launchErr  *rpc.LaunchError
		notConnErr *rpc.NotConnectedError
		timeoutErr *rpc.TimeoutError
		remoteErr  *rpc.RemoteToolError
		closedErr  *rpc.ChannelClosedError
		toolErr    *ToolError
	)
	switch {
	case errors.As(err, &launchErr):
		return fmt.Sprintf("The payment worker could not be started (%s). Check the worker command in your configuration.", launchErr.Command)
	case errors.As(err, &notConnErr):
		return "The payment worker is not connected. Reconnect and try again."
	case errors.As(err, &timeoutErr):
		if errors.Is(timeoutErr.Cause, context.Canceled) {
			return fmt.Sprintf("The request to %s was cancelled.", toolName)
		}
		if errors.Is(timeoutErr.Cause, context.DeadlineExceeded) {
			return fmt.Sprintf("The request to %s was abandoned when the caller's deadline passed.", toolName)
		}
		return fmt.Sprintf("The request to %s timed out after %s.", toolName, timeoutErr.Timeout)
	case errors.As(err, &remoteErr):
		return fmt.Sprintf("%s failed: %s", toolName, remoteErr.Message)
	case errors.As(err, &closedErr):
		if closedErr.ExitCode >= 0 {
			return fmt.Sprintf("The payment worker exited (code %d) before %s finished.", closedErr.ExitCode, toolName)
		}
		return fmt.Sprintf("The connection to the payment worker closed before %s finished.", toolName)
	case errors.As(err, &toolErr) && toolErr.Code == ErrorCodeUnknownTool:
		return fmt.Sprintf("Unknown tool %q. Refresh the tool list to see what the worker offers.", toolName)
	default:
		return fmt.Sprintf("%s failed: %v", toolName, err)
	}
}
