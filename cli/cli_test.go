package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	payotel "github.com/muskanTaza/Tazapay-VS-Code-Assistant/otel"
	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

const cliWorkerHelperEnv = "GO_WANT_CLI_WORKER_HELPER"

// newTestRoot creates a fresh command tree. Each test gets an isolated
// tree to avoid shared flag state.
func newTestRoot() *cobra.Command {
	return NewRootCmd("test")
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// writeTestConfig writes a payassist.yaml that launches the helper worker
// in the given mode and keeps history inside the test's temp dir.
func writeTestConfig(t *testing.T, mode string) string {
	t.Helper()
	t.Setenv(payotel.EndpointEnv, "")

	dir := t.TempDir()
	body := strings.Join([]string{
		"worker:",
		"  command: " + strconv.Quote(os.Args[0]),
		"  args: [\"-test.run=TestCLIWorkerHelperProcess\", \"--\"]",
		"  env:",
		"    " + cliWorkerHelperEnv + ": \"1\"",
		"    CLI_WORKER_MODE: " + strconv.Quote(mode),
		"credentials:",
		"  api_key: test-key-123",
		"  api_secret: test-secret-456",
		"timeouts:",
		"  invoke: 5s",
		"  discovery: 5s",
		"history:",
		"  path: ./history.db",
		"",
	}, "\n")
	path := filepath.Join(dir, "payassist.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile(config) error = %v", err)
	}
	return path
}

func requireExitCode(t *testing.T, err error, want int) *ExitError {
	t.Helper()
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v (%T), want *ExitError", err, err)
	}
	if exitErr.Code != want {
		t.Fatalf("exit code = %d (%s), want %d", exitErr.Code, exitErr.Message, want)
	}
	return exitErr
}

var cliHelperCatalog = []map[string]any{
	{
		"name":        "create_payment",
		"description": "Create a payment",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount":      map[string]any{"type": "number"},
				"currency":    map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
			},
			"required": []any{"amount"},
		},
	},
	{"name": "get_balance", "description": "Show the account balance"},
	{"name": "cancel_payout", "description": "Cancel a pending payout"},
}

// TestCLIWorkerHelperProcess is a fake payment worker driven by
// CLI_WORKER_MODE.
func TestCLIWorkerHelperProcess(t *testing.T) {
	if os.Getenv(cliWorkerHelperEnv) != "1" {
		return
	}
	mode := os.Getenv("CLI_WORKER_MODE")

	out := bufio.NewWriter(os.Stdout)
	reply := func(id *rpc.RequestID, result any, rpcErr *rpc.ErrorObject) {
		msg := rpc.Message{JSONRPC: "2.0", ID: id, Error: rpcErr}
		if rpcErr == nil {
			msg.Result, _ = json.Marshal(result)
		}
		line, _ := json.Marshal(msg)
		_, _ = out.Write(append(line, '\n'))
		_ = out.Flush()
	}
	text := func(s string) map[string]any {
		return map[string]any{"content": []any{map[string]any{"type": "text", "text": s}}}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req rpc.Message
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		switch req.Method {
		case rpc.MethodInitialize:
			reply(req.ID, map[string]any{"protocolVersion": "2024-11-05"}, nil)
		case rpc.MethodToolsList:
			reply(req.ID, map[string]any{"tools": cliHelperCatalog}, nil)
		case rpc.MethodToolsCall:
			if mode == "silent" {
				continue
			}
			var params rpc.ToolsCallParams
			_ = json.Unmarshal(req.Params, &params)
			switch params.Name {
			case "get_balance":
				reply(req.ID, text("Balance: 1200.00 USD"), nil)
			case "cancel_payout":
				reply(req.ID, nil, &rpc.ErrorObject{Code: -32000, Message: "payout already settled"})
			default:
				args, _ := json.Marshal(params.Arguments)
				reply(req.ID, text(params.Name+" ok: "+string(args)), nil)
			}
		default:
			reply(req.ID, nil, &rpc.ErrorObject{Code: -32601, Message: "method not found"})
		}
	}
	os.Exit(0)
}

func TestExitCodeFor(t *testing.T) {
	tests := map[string]int{
		"":                    exitSuccess,
		rpc.CodeTimeout:       exitTimeout,
		rpc.CodeLaunchFailed:  exitWorker,
		rpc.CodeNotConnected:  exitWorker,
		rpc.CodeChannelClosed: exitWorker,
		rpc.CodeRemoteError:   exitToolError,
		"UNKNOWN_TOOL":        exitValidation,
		"INVALID_CATALOG":     exitToolError,
	}
	for code, want := range tests {
		if got := exitCodeFor(code); got != want {
			t.Errorf("exitCodeFor(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestConfigShowMasksCredentials(t *testing.T) {
	configPath := writeTestConfig(t, "normal")

	stdout, _, err := executeCommand(newTestRoot(), "config", "show", "--config", configPath)
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(stdout, "test-secret-456") || strings.Contains(stdout, "test-key-123") {
		t.Fatalf("config show leaked a credential: %q", stdout)
	}
	if !strings.Contains(stdout, "**********") {
		t.Fatalf("config show output missing masked value: %q", stdout)
	}
	if !strings.Contains(stdout, "TAZAPAY_API_KEY") {
		t.Fatalf("config show output missing credential names: %q", stdout)
	}
}

func TestMissingExplicitConfigIsValidationError(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "tools", "list", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	requireExitCode(t, err, exitValidation)
}

func TestWorkerLaunchFailure(t *testing.T) {
	t.Setenv(payotel.EndpointEnv, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "payassist.yaml")
	body := "worker:\n  command: " + strconv.Quote(filepath.Join(dir, "missing-worker")) + "\nhistory:\n  disabled: true\n"
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile(config) error = %v", err)
	}

	_, _, err := executeCommand(newTestRoot(), "tools", "list", "--config", configPath)
	exitErr := requireExitCode(t, err, exitWorker)
	if !strings.Contains(exitErr.Message, "could not be started") {
		t.Fatalf("message = %q, want launch failure text", exitErr.Message)
	}
}
