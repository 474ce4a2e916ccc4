package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

func TestUserMessageIsDistinctPerFailureKind(t *testing.T) {
	errs := map[string]error{
		"launch":    &rpc.LaunchError{Command: "tazapay-worker", Err: errors.New("not found")},
		"not conn":  &rpc.NotConnectedError{State: rpc.StateFailed},
		"timeout":   &rpc.TimeoutError{Method: rpc.MethodToolsCall, Timeout: 2 * time.Second},
		"cancelled": &rpc.TimeoutError{Method: rpc.MethodToolsCall, Timeout: time.Second, Cause: context.Canceled},
		"deadline":  &rpc.TimeoutError{Method: rpc.MethodToolsCall, Timeout: time.Minute, Cause: context.DeadlineExceeded},
		"remote":    fmt.Errorf("wrapped: %w", &rpc.RemoteToolError{Method: rpc.MethodToolsCall, Code: -32602, Message: "amount is required"}),
		"closed":    &rpc.ChannelClosedError{ExitCode: 2},
		"detached":  &rpc.ChannelClosedError{ExitCode: -1},
		"unknown":   newToolError(ErrorCodeUnknownTool, "missing", nil),
		"other":     errors.New("disk full"),
	}

	seen := map[string]string{}
	for kind, err := range errs {
		msg := UserMessage("create_payment", err)
		if msg == "" {
			t.Fatalf("UserMessage(%s) is empty", kind)
		}
		if prev, dup := seen[msg]; dup {
			t.Fatalf("UserMessage(%s) = UserMessage(%s) = %q", kind, prev, msg)
		}
		seen[msg] = kind
	}

	if got := UserMessage("create_payment", errs["timeout"]); got != "The request to create_payment timed out after 2s." {
		t.Fatalf("timeout message = %q", got)
	}
	if got := UserMessage("create_payment", errs["deadline"]); strings.Contains(got, "1m0s") || !strings.Contains(got, "deadline passed") {
		t.Fatalf("caller deadline message = %q, want no call timeout in it", got)
	}
	if got := UserMessage("create_payment", errs["remote"]); got != "create_payment failed: amount is required" {
		t.Fatalf("remote message = %q", got)
	}
	if UserMessage("x", nil) != "" {
		t.Fatal("UserMessage(nil) should be empty")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{newToolError(ErrorCodeUnknownTool, "", nil), ErrorCodeUnknownTool},
		{fmt.Errorf("refresh: %w", &rpc.TimeoutError{}), rpc.CodeTimeout},
		{&rpc.ChannelClosedError{ExitCode: 1}, rpc.CodeChannelClosed},
		{errors.New("plain"), ErrorCodeInvocationFailed},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestToolErrorFormatting(t *testing.T) {
	cause := errors.New("eof")
	err := newToolError("", "", cause)
	if err.Code != ErrorCodeInvocationFailed || err.Message != "eof" {
		t.Fatalf("newToolError() = %+v", err)
	}
	if err.Error() != "INVOCATION_FAILED: eof" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("ToolError should unwrap to its cause")
	}
}

func TestRedactArguments(t *testing.T) {
	got := RedactArguments(map[string]any{"amount": 10, "card_number": "4111", "API_KEY": "k"})
	if got["amount"] != 10 || got["card_number"] != MaskedSecretValue || got["API_KEY"] != MaskedSecretValue {
		t.Fatalf("RedactArguments() = %v", got)
	}
	if RedactArguments(nil) != nil {
		t.Fatal("RedactArguments(nil) should be nil")
	}
	if MaskSecret("") != "" || MaskSecret("s3cret") != MaskedSecretValue {
		t.Fatal("MaskSecret() masked incorrectly")
	}
}
