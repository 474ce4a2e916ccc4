package cli

import (
	"fmt"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

// Process exit codes.
const (
	exitSuccess    = 0
	exitValidation = 1
	exitRuntime    = 2
	exitWorker     = 3
	exitToolError  = 4
	exitTimeout    = 10
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// exitCodeFor maps an invocation error code to a process exit code.
func exitCodeFor(errorCode string) int {
	switch errorCode {
	case "":
		return exitSuccess
	case rpc.CodeTimeout:
		return exitTimeout
	case rpc.CodeLaunchFailed, rpc.CodeNotConnected, rpc.CodeChannelClosed:
		return exitWorker
	case tool.ErrorCodeUnknownTool:
		return exitValidation
	default:
		return exitToolError
	}
}
