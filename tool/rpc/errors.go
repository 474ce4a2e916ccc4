package rpc

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stable machine-readable codes for each failure kind.
const (
	CodeLaunchFailed  = "LAUNCH_FAILED"
	CodeNotConnected  = "NOT_CONNECTED"
	CodeTimeout       = "TIMEOUT"
	CodeRemoteError   = "REMOTE_ERROR"
	CodeChannelClosed = "CHANNEL_CLOSED"
)

// ErrAlreadyStarted is returned by Channel.Start when a worker is already running.
var ErrAlreadyStarted = errors.New("rpc: channel already started")

// ErrChannelStopped is the exit event error when the worker ended because
// Stop was called.
var ErrChannelStopped = errors.New("rpc: channel stopped")

// LaunchError reports that the worker executable could not be started.
type LaunchError struct {
	Command string
	Err     error
}

func (e *LaunchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc: launch %q: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NotConnectedError reports a send attempted while the channel is not connected.
type NotConnectedError struct {
	State ChannelState
}

func (e *NotConnectedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc: channel not connected (state=%s)", e.State)
}

// TimeoutError reports that no response arrived before the call deadline, or
// that the caller abandoned the call.
type TimeoutError struct {
	Method  string
	ID      RequestID
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("rpc: %s (id=%d) abandoned: %v", e.Method, e.ID, e.Cause)
	}
	return fmt.Sprintf("rpc: %s (id=%d) timed out after %s", e.Method, e.ID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// RemoteToolError carries a structured error returned by the worker.
type RemoteToolError struct {
	Method  string
	Code    int
	Message string
}

func (e *RemoteToolError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "unspecified worker error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("rpc: %s failed: %s (code %d)", e.Method, msg, e.Code)
	}
	return fmt.Sprintf("rpc: %s failed: %s", e.Method, msg)
}

// ChannelClosedError reports that the worker exited while a call was pending.
type ChannelClosedError struct {
	ExitCode int
	Err      error
}

func (e *ChannelClosedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("rpc: worker exited (code %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("rpc: worker exited (code %d)", e.ExitCode)
}

func (e *ChannelClosedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode returns the machine-readable code for an error produced by this
// package, or "" when err is not one of its kinds.
func ErrorCode(err error) string {
	var (
		launchErr  *LaunchError
		notConnErr *NotConnectedError
		timeoutErr *TimeoutError
		remoteErr  *RemoteToolError
		closedErr  *ChannelClosedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &launchErr):
		return CodeLaunchFailed
	case errors.As(err, &notConnErr):
		return CodeNotConnected
	case errors.As(err, &timeoutErr):
		return CodeTimeout
	case errors.As(err, &remoteErr):
		return CodeRemoteError
	case errors.As(err, &closedErr):
		return CodeChannelClosed
	default:
		return ""
	}
}
