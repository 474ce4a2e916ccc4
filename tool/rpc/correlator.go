package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultCallTimeout applies when Call is given a non-positive timeout.
const DefaultCallTimeout = 30 * time.Second

// Transport is the part of a Channel the correlator depends on.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Subscribe(handler EventHandler) func()
}

// CorrelatorOptions configures a Correlator.
type CorrelatorOptions struct {
	DefaultTimeout time.Duration
	Logger         *slog.Logger
	// OnExit runs after a worker exit has failed the pending calls, with
	// the number of calls it failed.
	OnExit func(event Event, failed int)
}

type outcome struct {
	result json.RawMessage
	err    error
}

// pendingCall is one request waiting for its response. resolve is buffered
// so the single resolver never blocks.
type pendingCall struct {
	id       RequestID
	method   string
	deadline time.Time
	resolve  chan outcome
}

// Correlator matches response frames to outstanding calls by request id.
// A call is resolved exactly once: by its response, by its deadline, or by
// the worker exiting, whichever removes it from the pending table first.
type Correlator struct {
	transport      Transport
	logger         *slog.Logger
	defaultTimeout time.Duration
	onExit         func(event Event, failed int)

	mu          sync.Mutex
	nextID      RequestID
	pending     map[RequestID]*pendingCall
	unsubscribe func()
}

// NewCorrelator subscribes to transport events and returns a correlator.
func NewCorrelator(transport Transport, opts CorrelatorOptions) *Correlator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	c := &Correlator{
		transport:      transport,
		logger:         opts.Logger,
		defaultTimeout: opts.DefaultTimeout,
		onExit:         opts.OnExit,
		nextID:         1,
		pending:        make(map[RequestID]*pendingCall),
	}
	c.unsubscribe = transport.Subscribe(c.handleEvent)
	return c
}

// Call sends method with params and waits for the matching response, the
// timeout, or ctx cancellation. A non-positive timeout uses the default.
func (c *Correlator) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	paramsRaw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode %s params: %w", method, err)
	}

	call := c.register(method, timeout)
	frame, err := json.Marshal(newRequest(call.id, method, paramsRaw))
	if err != nil {
		c.remove(call.id)
		return nil, fmt.Errorf("rpc: encode %s request: %w", method, err)
	}
	if err := c.transport.Send(ctx, frame); err != nil {
		c.remove(call.id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &TimeoutError{Method: method, ID: call.id, Timeout: timeout, Cause: ctxErr}
		}
		return nil, err
	}

	timer := time.NewTimer(time.Until(call.deadline))
	defer timer.Stop()

	select {
	case out := <-call.resolve:
		return out.result, out.err
	case <-timer.C:
		if c.remove(call.id) {
			c.logger.Debug("rpc.correlator.timeout", "method", method, "id", int64(call.id), "timeout", timeout)
			return nil, &TimeoutError{Method: method, ID: call.id, Timeout: timeout}
		}
	case <-ctx.Done():
		if c.remove(call.id) {
			return nil, &TimeoutError{Method: method, ID: call.id, Timeout: timeout, Cause: ctx.Err()}
		}
	}
	// A resolver removed the call first and is delivering its outcome.
	out := <-call.resolve
	return out.result, out.err
}

// Notify sends a message that expects no response.
func (c *Correlator) Notify(ctx context.Context, method string, params any) error {
	paramsRaw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("rpc: encode %s params: %w", method, err)
	}
	frame, err := json.Marshal(Message{JSONRPC: jsonRPCVersion, Method: method, Params: paramsRaw})
	if err != nil {
		return fmt.Errorf("rpc: encode %s notification: %w", method, err)
	}
	return c.transport.Send(ctx, frame)
}

// Outstanding returns the number of calls awaiting resolution.
func (c *Correlator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close detaches from the transport and fails every outstanding call.
func (c *Correlator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.failAll(&ChannelClosedError{ExitCode: -1, Err: errors.New("correlator closed")})
}

func (c *Correlator) register(method string, timeout time.Duration) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	for {
		if _, taken := c.pending[id]; !taken {
			break
		}
		id++
	}
	c.nextID = id + 1
	call := &pendingCall{
		id:       id,
		method:   method,
		deadline: time.Now().Add(timeout),
		resolve:  make(chan outcome, 1),
	}
	c.pending[id] = call
	return call
}

// remove deletes the call and reports whether the caller won the right to
// resolve it.
func (c *Correlator) remove(id RequestID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Correlator) take(id RequestID) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	call := c.pending[id]
	if call != nil {
		delete(c.pending, id)
	}
	return call
}

func (c *Correlator) handleEvent(event Event) {
	switch event.Kind {
	case EventFrame:
		c.route(event.Frame)
	case EventExit:
		failed := c.failAll(&ChannelClosedError{ExitCode: event.ExitCode, Err: event.Err})
		if c.onExit != nil {
			c.onExit(event, failed)
		}
	}
}

func (c *Correlator) route(frame Frame) {
	msg, err := frame.Decode()
	if err != nil {
		c.logger.Debug("rpc.correlator.undecodable_frame", "error", err)
		return
	}
	if !msg.IsResponse() {
		c.logger.Debug("rpc.correlator.notification_dropped", "method", msg.Method)
		return
	}

	call := c.take(*msg.ID)
	if call == nil {
		c.logger.Debug("rpc.correlator.unmatched_response", "id", int64(*msg.ID))
		return
	}

	if msg.Error != nil {
		call.resolve <- outcome{err: &RemoteToolError{
			Method:  call.method,
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
		}}
		return
	}
	call.resolve <- outcome{result: msg.Result}
}

func (c *Correlator) failAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[RequestID]*pendingCall)
	c.mu.Unlock()

	for _, call := range pending {
		call.resolve <- outcome{err: err}
	}
	if len(pending) > 0 {
		c.logger.Debug("rpc.correlator.failed_pending", "count", len(pending), "error", err)
	}
	return len(pending)
}
