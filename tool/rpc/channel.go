package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

// exitDrainWait bounds how long output is drained after the worker is
// reaped. Descendants that inherited the pipes can otherwise hold them open.
const exitDrainWait = 200 * time.Millisecond

// ChannelState is the lifecycle state of a Channel.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateStarting
	StateConnected
	StateFailed
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LaunchSpec describes how to start the worker. Credentials belong in
// SecretEnv so they never appear on the command line or in logs.
type LaunchSpec struct {
	Command   string
	Args      []string
	Env       map[string]string
	SecretEnv map[string]string
	Dir       string
}

// LogValue renders the spec for structured logs with secret values masked.
func (s LaunchSpec) LogValue() slog.Value {
	secretKeys := make([]string, 0, len(s.SecretEnv))
	for key := range s.SecretEnv {
		secretKeys = append(secretKeys, key)
	}
	slices.Sort(secretKeys)
	return slog.GroupValue(
		slog.String("command", s.Command),
		slog.Any("args", s.Args),
		slog.Any("env", flattenEnv(s.Env)),
		slog.Any("secret_env", secretKeys),
	)
}

func (s LaunchSpec) environ() []string {
	env := os.Environ()
	env = append(env, flattenEnv(s.Env)...)
	env = append(env, flattenEnv(s.SecretEnv)...)
	return env
}

// EventKind distinguishes channel output events.
type EventKind string

const (
	EventFrame EventKind = "frame"
	EventExit  EventKind = "exit"
)

// Event is published to channel subscribers. Frame is set for EventFrame;
// ExitCode and Err are set for EventExit.
type Event struct {
	Kind     EventKind
	Frame    Frame
	ExitCode int
	Err      error
}

// EventHandler receives channel events on the reader goroutine. Handlers
// must return quickly and must not call back into Stop.
type EventHandler func(Event)

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	Logger       *slog.Logger
	MaxFrameSize int
}

type subscriber struct {
	id int
	fn EventHandler
}

// Channel owns one worker process and its stdin/stdout pipes.
type Channel struct {
	logger       *slog.Logger
	maxFrameSize int

	mu       sync.Mutex
	state    ChannelState
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	done     chan struct{}
	stopping bool

	writeMu sync.Mutex

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub int
}

// NewChannel returns a disconnected channel.
func NewChannel(opts ChannelOptions) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Channel{
		logger:       opts.Logger,
		maxFrameSize: opts.MaxFrameSize,
		state:        StateDisconnected,
	}
}

// State returns the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start spawns the worker described by spec. The worker outlives ctx; use
// Stop to terminate it.
func (c *Channel) Start(ctx context.Context, spec LaunchSpec) error {
	c.mu.Lock()
	if c.state == StateStarting || c.state == StateConnected {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateStarting
	c.mu.Unlock()

	cmd, stdin, stdout, stderr, err := c.spawn(ctx, spec)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		c.logger.Warn("rpc.channel.launch_failed", "spec", spec, "error", err)
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.done = done
	c.stopping = false
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Debug("rpc.channel.started", "spec", spec, "pid", cmd.Process.Pid)

	go c.supervise(cmd, stdout, stderr, done)
	return nil
}

func (c *Channel) spawn(ctx context.Context, spec LaunchSpec) (*exec.Cmd, io.WriteCloser, *os.File, *os.File, error) {
	command := strings.TrimSpace(spec.Command)
	if command == "" {
		return nil, nil, nil, nil, &LaunchError{Err: errors.New("command is required")}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, nil, &LaunchError{Command: command, Err: err}
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, nil, nil, nil, &LaunchError{Command: command, Err: err}
	}

	// #nosec G204 -- command and args come from local configuration.
	cmd := exec.Command(path, slices.Clone(spec.Args)...)
	cmd.Env = spec.environ()
	cmd.Dir = spec.Dir
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, &LaunchError{Command: command, Err: fmt.Errorf("open stdin: %w", err)}
	}
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, nil, nil, nil, &LaunchError{Command: command, Err: fmt.Errorf("open stdout: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdout, stdoutW)
		_ = stdin.Close()
		return nil, nil, nil, nil, &LaunchError{Command: command, Err: fmt.Errorf("open stderr: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	closeFiles(stdoutW, stderrW)
	if err != nil {
		closeFiles(stdout, stderr)
		_ = stdin.Close()
		return nil, nil, nil, nil, &LaunchError{Command: command, Err: err}
	}
	return cmd, stdin, stdout, stderr, nil
}

// Stop terminates the worker together with any processes it spawned and
// waits for the exit event to be published. Calling Stop on a channel
// without a worker only resets the state.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	done := c.done
	if cmd == nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	c.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	killProcessGroup(cmd)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one JSON document followed by a newline to the worker.
func (c *Channel) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	state := c.state
	stdin := c.stdin
	c.mu.Unlock()
	if state != StateConnected || stdin == nil {
		return &NotConnectedError{State: state}
	}

	payload := make([]byte, 0, len(frame)+1)
	payload = append(payload, frame...)
	payload = append(payload, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := stdin.Write(payload); err != nil {
		return &ChannelClosedError{ExitCode: -1, Err: fmt.Errorf("write frame: %w", err)}
	}
	return nil
}

// Subscribe registers a handler for frame and exit events. The returned
// function removes the handler and is safe to call more than once.
func (c *Channel) Subscribe(handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: handler})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

func (c *Channel) publish(event Event) {
	c.subMu.RLock()
	subs := slices.Clone(c.subs)
	c.subMu.RUnlock()
	for _, sub := range subs {
		sub.fn(event)
	}
}

// supervise reaps the worker and publishes the exit event. Output the
// worker wrote before exiting is drained first, so every frame read is
// published before the exit event.
func (c *Channel) supervise(cmd *exec.Cmd, stdout, stderr *os.File, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop(stdout)
	}()
	go func() {
		defer wg.Done()
		c.stderrLoop(stderr)
	}()

	waitErr := cmd.Wait()
	code := exitCode(cmd, waitErr)

	killProcessGroup(cmd)
	drainOutput(&wg, stdout, stderr)

	c.mu.Lock()
	stopping := c.stopping
	if c.cmd == cmd {
		c.cmd = nil
		c.stdin = nil
		c.stopping = false
		if stopping || code == 0 {
			c.state = StateDisconnected
		} else {
			c.state = StateFailed
		}
	}
	c.mu.Unlock()

	if stopping {
		c.logger.Debug("rpc.channel.stopped", "exit_code", code)
	} else if code != 0 {
		c.logger.Warn("rpc.channel.exited", "exit_code", code, "error", waitErr)
	} else {
		c.logger.Info("rpc.channel.exited", "exit_code", code)
	}

	var exitErr error
	if stopping {
		exitErr = ErrChannelStopped
	} else if waitErr != nil {
		exitErr = waitErr
	}
	c.publish(Event{Kind: EventExit, ExitCode: code, Err: exitErr})
}

// drainOutput waits for the output loops to finish once the worker is gone.
// Reads still blocked after exitDrainWait are cut off and the files closed.
func drainOutput(loops *sync.WaitGroup, files ...*os.File) {
	finished := make(chan struct{})
	go func() {
		loops.Wait()
		close(finished)
	}()

	deadline := time.Now().Add(exitDrainWait)
	for _, f := range files {
		_ = f.SetReadDeadline(deadline)
	}
	// Files without deadline support are closed instead.
	backstop := time.AfterFunc(2*exitDrainWait, func() { closeFiles(files...) })
	<-finished
	backstop.Stop()
	closeFiles(files...)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (c *Channel) readLoop(stdout io.Reader) {
	framer := NewFramer(stdout, FramerOptions{
		MaxFrameSize: c.maxFrameSize,
		Logger:       c.logger,
	})
	for frame := range framer.All() {
		c.publish(Event{Kind: EventFrame, Frame: frame})
	}
	if err := framer.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
		c.logger.Debug("rpc.channel.read_ended", "error", err)
	}
}

func (c *Channel) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if c.logWorkerLine(line) {
			continue
		}
		c.logger.Warn("rpc.channel.stderr", "message", line)
	}
	// Keep draining so the worker never blocks on a full stderr pipe.
	_, _ = io.Copy(io.Discard, stderr)
}

// logWorkerLine re-logs structured worker diagnostics of the form
// {"level":"info","message":"..."} at the matching level.
func (c *Channel) logWorkerLine(line string) bool {
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return false
	}
	levelRaw, _ := payload["level"].(string)
	message, _ := payload["message"].(string)
	if levelRaw == "" || message == "" {
		return false
	}
	attrs := make([]any, 0, len(payload)*2)
	for key, value := range payload {
		if key == "level" || key == "message" {
			continue
		}
		attrs = append(attrs, key, value)
	}
	switch strings.ToLower(strings.TrimSpace(levelRaw)) {
	case "debug":
		c.logger.Debug(message, attrs...)
	case "info":
		c.logger.Info(message, attrs...)
	case "error":
		c.logger.Error(message, attrs...)
	default:
		c.logger.Warn(message, attrs...)
	}
	return true
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
