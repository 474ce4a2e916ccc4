package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
)

const helperEnv = "GO_WANT_RPC_WORKER_HELPER"

func helperSpec(mode string) LaunchSpec {
	return LaunchSpec{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestRPCWorkerHelperProcess", "--"},
		Env: map[string]string{
			helperEnv:         "1",
			"RPC_WORKER_MODE": mode,
		},
		SecretEnv: map[string]string{
			"TAZAPAY_API_KEY": "key-123",
		},
	}
}

// TestRPCWorkerHelperProcess is a fake worker driven by RPC_WORKER_MODE.
func TestRPCWorkerHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	mode := os.Getenv("RPC_WORKER_MODE")
	switch mode {
	case "exit-clean":
		os.Exit(0)
	case "linger":
		time.Sleep(5 * time.Second)
		os.Exit(0)
	case "orphan-exit", "orphan-serve":
		spawnLingeringChild(false)
	case "detached-exit":
		spawnLingeringChild(true)
	}
	if mode == "chatty" {
		fmt.Fprintln(os.Stdout, "worker booting, not json")
		fmt.Fprintln(os.Stderr, `{"level":"info","message":"worker.ready"}`)
	}

	scanner := bufio.NewScanner(os.Stdin)
	seen := 0
	for scanner.Scan() {
		var req Message
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		seen++
		switch mode {
		case "silent":
			continue
		case "crash":
			if seen == 2 {
				os.Exit(3)
			}
			continue
		case "orphan-exit", "detached-exit":
			os.Exit(3)
		}

		result, _ := json.Marshal(map[string]any{
			"method":  req.Method,
			"api_key": os.Getenv("TAZAPAY_API_KEY"),
		})
		resp, _ := json.Marshal(Message{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
		if mode == "chatty" {
			half := len(resp) / 2
			_, _ = os.Stdout.Write(resp[:half])
			time.Sleep(5 * time.Millisecond)
			_, _ = os.Stdout.Write(append(resp[half:], '\n'))
			continue
		}
		_, _ = os.Stdout.Write(append(resp, '\n'))
	}
	os.Exit(0)
}

// spawnLingeringChild starts a helper that sleeps while holding the
// worker's stdout and stderr open.
func spawnLingeringChild(detached bool) {
	cmd := exec.Command(os.Args[0], "-test.run=TestRPCWorkerHelperProcess", "--")
	cmd.Env = append(os.Environ(), "RPC_WORKER_MODE=linger")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if detached {
		detachProcess(cmd)
	}
	if err := cmd.Start(); err != nil {
		os.Exit(5)
	}
}

func waitForState(t *testing.T, ch *Channel, want ChannelState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ch.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("State() = %s, want %s", ch.State(), want)
}

func startHelper(t *testing.T, mode string) (*Channel, *Correlator) {
	t.Helper()
	ch := NewChannel(ChannelOptions{})
	if err := ch.Start(context.Background(), helperSpec(mode)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = ch.Stop(context.Background())
	})
	return ch, NewCorrelator(ch, CorrelatorOptions{})
}

func TestChannelLaunchErrorForMissingExecutable(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	err := ch.Start(context.Background(), LaunchSpec{Command: "payassist-worker-that-does-not-exist"})

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("Start() error = %v, want LaunchError", err)
	}
	if ErrorCode(err) != CodeLaunchFailed {
		t.Fatalf("ErrorCode() = %q, want %q", ErrorCode(err), CodeLaunchFailed)
	}
	if ch.State() != StateFailed {
		t.Fatalf("State() = %s, want failed", ch.State())
	}
}

func TestChannelLaunchErrorForEmptyCommand(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	var launchErr *LaunchError
	if err := ch.Start(context.Background(), LaunchSpec{Command: "  "}); !errors.As(err, &launchErr) {
		t.Fatalf("Start() error = %v, want LaunchError", err)
	}
}

func TestChannelSendBeforeStart(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	err := ch.Send(context.Background(), []byte(`{"id":1}`))
	var notConnected *NotConnectedError
	if !errors.As(err, &notConnected) {
		t.Fatalf("Send() error = %v, want NotConnectedError", err)
	}
	if notConnected.State != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", notConnected.State)
	}
}

func TestChannelRoundTripWithCorrelator(t *testing.T) {
	ch, c := startHelper(t, "echo")
	if ch.State() != StateConnected {
		t.Fatalf("State() = %s, want connected", ch.State())
	}

	result, err := c.Call(context.Background(), MethodToolsList, map[string]any{}, 2*time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(result, &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if payload["method"] != MethodToolsList {
		t.Fatalf("echoed method = %q, want %q", payload["method"], MethodToolsList)
	}
	if payload["api_key"] != "key-123" {
		t.Fatalf("worker did not receive secret env, got %q", payload["api_key"])
	}

	if err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ch.State() != StateDisconnected {
		t.Fatalf("State() after Stop = %s, want disconnected", ch.State())
	}
	if err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestChannelToleratesNoiseAndSplitWrites(t *testing.T) {
	_, c := startHelper(t, "chatty")
	for i := 0; i < 3; i++ {
		result, err := c.Call(context.Background(), fmt.Sprintf("call-%d", i), nil, 2*time.Second)
		if err != nil {
			t.Fatalf("Call(%d) error = %v", i, err)
		}
		if !strings.Contains(string(result), fmt.Sprintf("call-%d", i)) {
			t.Fatalf("Call(%d) result = %s", i, result)
		}
	}
}

func TestChannelExitFailsPendingCalls(t *testing.T) {
	ch, c := startHelper(t, "crash")

	type res struct {
		name string
		err  error
	}
	results := make(chan res, 2)
	start := time.Now()
	for _, name := range []string{"A", "B"} {
		go func(name string) {
			_, err := c.Call(context.Background(), name, nil, 10*time.Second)
			results <- res{name: name, err: err}
		}(name)
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			var closedErr *ChannelClosedError
			if !errors.As(r.err, &closedErr) {
				t.Fatalf("call %s error = %v, want ChannelClosedError", r.name, r.err)
			}
			if closedErr.ExitCode != 3 {
				t.Fatalf("call %s exit code = %d, want 3", r.name, closedErr.ExitCode)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("pending calls were not failed on worker exit")
		}
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("calls waited for their deadlines")
	}
	waitForState(t, ch, StateFailed)

	var notConnected *NotConnectedError
	if err := ch.Send(context.Background(), []byte(`{}`)); !errors.As(err, &notConnected) {
		t.Fatalf("Send() after exit error = %v, want NotConnectedError", err)
	}
}

func TestChannelCleanExitDisconnects(t *testing.T) {
	ch := NewChannel(ChannelOptions{})
	exits := make(chan Event, 1)
	unsubscribe := ch.Subscribe(func(event Event) {
		if event.Kind == EventExit {
			exits <- event
		}
	})
	defer unsubscribe()

	if err := ch.Start(context.Background(), helperSpec("exit-clean")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case event := <-exits:
		if event.ExitCode != 0 {
			t.Fatalf("exit code = %d, want 0", event.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}
	waitForState(t, ch, StateDisconnected)
}

func TestChannelStartTwiceAndRestart(t *testing.T) {
	ch, _ := startHelper(t, "echo")
	if err := ch.Start(context.Background(), helperSpec("echo")); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	if err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := ch.Start(context.Background(), helperSpec("echo")); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	c := NewCorrelator(ch, CorrelatorOptions{})
	defer c.Close()
	if _, err := c.Call(context.Background(), "ping", nil, 2*time.Second); err != nil {
		t.Fatalf("Call() after restart error = %v", err)
	}
}

func TestChannelStopFailsPendingCalls(t *testing.T) {
	ch, c := startHelper(t, "silent")

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "hang", nil, 10*time.Second)
		errCh <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for c.Outstanding() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := ch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case err := <-errCh:
		if ErrorCode(err) != CodeChannelClosed {
			t.Fatalf("Call() error = %v, want channel closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed by Stop")
	}
}

func TestChannelExitWhileDescendantHoldsOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix-only")
	}
	for _, mode := range []string{"orphan-exit", "detached-exit"} {
		t.Run(mode, func(t *testing.T) {
			ch, c := startHelper(t, mode)

			start := time.Now()
			_, err := c.Call(context.Background(), "ping", nil, 5*time.Second)
			var closedErr *ChannelClosedError
			if !errors.As(err, &closedErr) {
				t.Fatalf("Call() error = %v, want ChannelClosedError", err)
			}
			if closedErr.ExitCode != 3 {
				t.Fatalf("exit code = %d, want 3", closedErr.ExitCode)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("exit reported after %s, want it on reap", elapsed)
			}
			waitForState(t, ch, StateFailed)
		})
	}
}

func TestChannelStopTerminatesDescendants(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix-only")
	}
	ch, c := startHelper(t, "orphan-serve")
	if _, err := c.Call(context.Background(), "ping", nil, 2*time.Second); err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v, want prompt stop", err)
	}
	if ch.State() != StateDisconnected {
		t.Fatalf("State() = %s, want disconnected", ch.State())
	}
}

func TestLaunchSpecLogValueMasksSecrets(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("launch", "spec", helperSpec("echo"))

	out := buf.String()
	if strings.Contains(out, "key-123") {
		t.Fatalf("log output leaked secret: %s", out)
	}
	if !strings.Contains(out, "TAZAPAY_API_KEY") {
		t.Fatalf("log output should name the secret variable: %s", out)
	}
}
