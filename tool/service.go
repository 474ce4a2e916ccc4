package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

const (
	// DefaultInvokeTimeout applies when Invoke is given a non-positive timeout.
	DefaultInvokeTimeout = 30 * time.Second
	defaultHandshakeWait = 10 * time.Second
	defaultStopWait      = 5 * time.Second

	// ProtocolVersion is sent in the initialize handshake.
	ProtocolVersion = "2024-11-05"
)

// ErrServiceClosed is returned by Start after Close.
var ErrServiceClosed = errors.New("tool: service is closed")

// Fallback answers questions no tool matches, for example from a docs
// index. It is optional.
type Fallback interface {
	Answer(ctx context.Context, query string) (string, error)
}

// ServiceConfig wires a Service. Only Launch is required.
type ServiceConfig struct {
	Launch   rpc.LaunchSpec
	Logger   *slog.Logger
	Observer Observer
	// Store, when set, receives catalog snapshots and invocation history.
	Store    Store
	Intents  IntentTable
	Fallback Fallback

	DefaultTimeout time.Duration
	// DiscoveryTimeout bounds tools/list; zero uses DefaultTimeout.
	DiscoveryTimeout time.Duration
	// Handshake sends initialize and notifications/initialized before
	// discovery.
	Handshake  bool
	ClientInfo rpc.ClientInfo
	// RefreshSchedule is a cron expression; empty disables periodic refresh.
	RefreshSchedule string
	MaxFrameSize    int
}

// InvokeResult is what a caller renders after an invocation. Failures are
// reported in-band with IsError set and a human-readable Content.
type InvokeResult struct {
	Content   string `json:"content"`
	IsError   bool   `json:"isError"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// AskResult describes how a free-text request was handled.
type AskResult struct {
	Tool       string         `json:"tool,omitempty"`
	Candidates []string       `json:"candidates,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	// Problems lists schema mismatches in the extracted arguments.
	Problems []string     `json:"problems,omitempty"`
	Result   InvokeResult `json:"result"`
	// Answered is true when the fallback produced the result.
	Answered bool `json:"answered,omitempty"`
}

// Service owns one worker and exposes the tool catalog and invocation to
// callers. Create it with NewService, Start it once, and Close it when done.
type Service struct {
	cfg        ServiceConfig
	logger     *slog.Logger
	observer   Observer
	channel    *rpc.Channel
	correlator *rpc.Correlator
	registry   *Registry
	scheduler  *RefreshScheduler

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewService validates cfg and builds a service. No process is started.
func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.Launch.Command) == "" {
		return nil, errors.New("tool: service launch command is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultInvokeTimeout
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = cfg.DefaultTimeout
	}
	if cfg.Intents == nil {
		cfg.Intents = DefaultIntents()
	}
	if cfg.ClientInfo.Name == "" {
		cfg.ClientInfo = rpc.ClientInfo{Name: "payassist", Version: "dev"}
	}
	observer := observerOrNoop(cfg.Observer)

	channel := rpc.NewChannel(rpc.ChannelOptions{
		Logger:       cfg.Logger,
		MaxFrameSize: cfg.MaxFrameSize,
	})
	s := &Service{
		cfg:      cfg,
		logger:   cfg.Logger,
		observer: observer,
		channel:  channel,
	}
	correlator := rpc.NewCorrelator(channel, rpc.CorrelatorOptions{
		DefaultTimeout: cfg.DefaultTimeout,
		Logger:         cfg.Logger,
		OnExit:         s.onWorkerExit,
	})
	s.correlator = correlator
	s.registry = NewRegistry(RegistryConfig{
		Caller:   correlator,
		Logger:   cfg.Logger,
		Observer: observer,
		Intents:  cfg.Intents,
		Timeout:  cfg.DiscoveryTimeout,
	})

	if strings.TrimSpace(cfg.RefreshSchedule) != "" {
		scheduler, err := NewRefreshScheduler(RefreshSchedulerConfig{
			Schedule:   cfg.RefreshSchedule,
			Refresh:    s.Refresh,
			Logger:     cfg.Logger,
			RunTimeout: cfg.DiscoveryTimeout,
		})
		if err != nil {
			correlator.Close()
			return nil, err
		}
		s.scheduler = scheduler
	}
	return s, nil
}

// Start launches the worker, performs the optional handshake and loads the
// catalog. A discovery failure is not fatal: the service falls back to the
// last stored catalog and keeps running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	if s.started {
		s.mu.Unlock()
		return rpc.ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	if err := s.Refresh(ctx); err != nil {
		s.restoreSnapshot(ctx)
	}
	if s.scheduler != nil {
		s.scheduler.Start()
	}
	return nil
}

// Reconnect restarts the worker and reloads the catalog. Calls pending on
// the old worker fail with a channel-closed error.
func (s *Service) Reconnect(ctx context.Context) error {
	if err := s.stopChannel(ctx); err != nil {
		return err
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("tool.service.reconnect_refresh_failed", "error", err)
	}
	return nil
}

func (s *Service) connect(ctx context.Context) error {
	if err := s.channel.Start(ctx, s.cfg.Launch); err != nil {
		return err
	}
	if !s.cfg.Handshake {
		return nil
	}
	if err := s.handshake(ctx); err != nil {
		_ = s.stopChannel(ctx)
		return fmt.Errorf("tool: worker handshake: %w", err)
	}
	return nil
}

func (s *Service) handshake(ctx context.Context) error {
	raw, err := s.correlator.Call(ctx, rpc.MethodInitialize, rpc.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      s.cfg.ClientInfo,
	}, defaultHandshakeWait)
	if err != nil {
		return err
	}
	s.logger.Debug("tool.service.initialized", "result_bytes", len(raw))
	return s.correlator.Notify(ctx, rpc.MethodInitialized, map[string]any{})
}

// Refresh reloads the catalog from the worker. On success the new catalog
// is also written to the store.
func (s *Service) Refresh(ctx context.Context) error {
	if err := s.registry.Refresh(ctx); err != nil {
		return err
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveSnapshot(ctx, s.registry.Tools()); err != nil {
			s.logger.Warn("tool.service.snapshot_save_failed", "error", err)
		}
	}
	return nil
}

func (s *Service) restoreSnapshot(ctx context.Context) {
	if s.cfg.Store == nil || s.registry.Len() > 0 {
		return
	}
	tools, at, ok, err := s.cfg.Store.LoadSnapshot(ctx)
	if err != nil {
		s.logger.Warn("tool.service.snapshot_load_failed", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := s.registry.Replace(tools); err != nil {
		s.logger.Warn("tool.service.snapshot_invalid", "error", err)
		return
	}
	s.logger.Info("tool.service.snapshot_restored", "tools", len(tools), "saved_at", at)
}

// Close stops the refresh schedule and the worker, failing any pending
// calls. A closed service cannot be started again.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.stopChannel(ctx); err != nil {
		errs = append(errs, err)
	}
	s.correlator.Close()
	return errors.Join(errs...)
}

func (s *Service) stopChannel(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, defaultStopWait)
	defer cancel()
	return s.channel.Stop(stopCtx)
}

// State reports the worker channel state.
func (s *Service) State() rpc.ChannelState {
	return s.channel.State()
}

// Registry exposes the catalog.
func (s *Service) Registry() *Registry {
	return s.registry
}

// ListTools returns the current catalog in discovery order.
func (s *Service) ListTools() []Tool {
	return s.registry.Tools()
}

// FindRelevant ranks the catalog against free text.
func (s *Service) FindRelevant(text string) []Tool {
	return s.registry.FindRelevant(text)
}

// Invoke calls a tool and waits for its result, the timeout, or ctx. It
// never returns an error: every failure is reported in the result.
func (s *Service) Invoke(ctx context.Context, toolName string, args map[string]any, timeout time.Duration) InvokeResult {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()

	var result InvokeResult
	if _, ok := s.registry.Lookup(toolName); !ok {
		err := newToolError(ErrorCodeUnknownTool, fmt.Sprintf("tool %q is not in the catalog", toolName), nil)
		result = failureResult(toolName, err)
	} else {
		raw, err := s.correlator.Call(ctx, rpc.MethodToolsCall, rpc.ToolsCallParams{
			Name:      toolName,
			Arguments: args,
		}, timeout)
		if err != nil {
			result = failureResult(toolName, err)
		} else {
			content, isError := RenderResult(raw)
			result = InvokeResult{Content: content, IsError: isError}
		}
	}

	duration := time.Since(start)
	s.observer.ObserveInvoke(InvokeObservation{
		ToolName:     toolName,
		DurationMS:   duration.Milliseconds(),
		Success:      !result.IsError,
		ToolReported: result.IsError && result.ErrorCode == "",
		ErrorCode:    result.ErrorCode,
	})
	logAttrs := []any{"tool", toolName, "args", RedactArguments(args), "duration", duration}
	if result.ErrorCode != "" {
		s.logger.Warn("tool.service.invoke_failed", append(logAttrs, "code", result.ErrorCode)...)
	} else {
		s.logger.Info("tool.service.invoked", append(logAttrs, "is_error", result.IsError)...)
	}
	s.record(ctx, toolName, args, result, duration)
	return result
}

func failureResult(toolName string, err error) InvokeResult {
	return InvokeResult{
		Content:   UserMessage(toolName, err),
		IsError:   true,
		ErrorCode: ErrorCode(err),
	}
}

func (s *Service) record(ctx context.Context, toolName string, args map[string]any, result InvokeResult, duration time.Duration) {
	if s.cfg.Store == nil {
		return
	}
	// History is written even when the caller's ctx has ended.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	err := s.cfg.Store.RecordInvocation(recordCtx, InvocationRecord{
		ToolName:   toolName,
		Arguments:  RedactArguments(args),
		IsError:    result.IsError,
		ErrorCode:  result.ErrorCode,
		DurationMS: duration.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("tool.service.history_failed", "error", err)
	}
}

// Ask handles free text end to end: rank the catalog, extract arguments for
// the best match and invoke it. When nothing matches, the fallback answers
// if configured.
func (s *Service) Ask(ctx context.Context, text string, timeout time.Duration) AskResult {
	candidates := s.FindRelevant(text)
	if len(candidates) == 0 {
		return s.answerWithoutTool(ctx, text)
	}

	chosen := candidates[0]
	names := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		names = append(names, candidate.Name)
	}
	args := Extract(chosen, text)

	problems, err := CheckArguments(chosen, args)
	if err != nil {
		s.logger.Debug("tool.service.schema_check_skipped", "tool", chosen.Name, "error", err)
	} else if len(problems) > 0 {
		s.logger.Info("tool.service.argument_problems", "tool", chosen.Name, "problems", problems)
	}

	return AskResult{
		Tool:       chosen.Name,
		Candidates: names,
		Arguments:  args,
		Problems:   problems,
		Result:     s.Invoke(ctx, chosen.Name, args, timeout),
	}
}

func (s *Service) answerWithoutTool(ctx context.Context, text string) AskResult {
	noMatch := AskResult{Result: InvokeResult{
		Content:   "No tool matches that request. List the available tools to see what can be done.",
		IsError:   true,
		ErrorCode: ErrorCodeUnknownTool,
	}}
	if s.cfg.Fallback == nil {
		return noMatch
	}
	answer, err := s.cfg.Fallback.Answer(ctx, text)
	if err != nil {
		s.logger.Warn("tool.service.fallback_failed", "error", err)
		return noMatch
	}
	return AskResult{Result: InvokeResult{Content: answer}, Answered: true}
}

func (s *Service) onWorkerExit(event rpc.Event, failed int) {
	requested := errors.Is(event.Err, rpc.ErrChannelStopped)
	if !requested {
		s.logger.Warn("tool.service.worker_exited", "exit_code", event.ExitCode, "pending_failed", failed)
	}
	s.observer.ObserveWorkerExit(WorkerExitObservation{
		ExitCode:      event.ExitCode,
		Requested:     requested,
		PendingFailed: failed,
	})
}
