package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/murmurkit/murmur/pkg/capture"
)

// State is the lifecycle phase of the session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConfigError reports a missing or invalid credential. It is fatal to
// session start and surfaces before any resource is acquired.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// SourceFactory acquires the input device. Called only after credentials
// validate and the transport opens, so a failed start never claims the
// microphone.
type SourceFactory func() (capture.Source, error)

// Controller is the lifecycle state machine. It owns the single transport
// handle and the single capture source; every transition funnels through
// it. A generation counter discards callbacks from a superseded session so
// rapid start/stop cycles never act on stale handles.
type Controller struct {
	dialer   Dialer
	cfg      TransportConfig
	pipeline *capture.Pipeline
	timeline Timeline
	router   *Router
	sources  SourceFactory
	log      *slog.Logger
	onState  func(State)

	mu     sync.Mutex
	state  State
	gen    uint64
	handle Handle
	src    capture.Source
	ctx    context.Context
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStateFunc installs a transition callback.
func WithStateFunc(fn func(State)) ControllerOption {
	return func(c *Controller) { c.onState = fn }
}

// NewController wires the lifecycle over the given collaborators.
func NewController(dialer Dialer, cfg TransportConfig, pipeline *capture.Pipeline, timeline Timeline, router *Router, sources SourceFactory, log *slog.Logger, opts ...ControllerOption) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		dialer:   dialer,
		cfg:      cfg,
		pipeline: pipeline,
		timeline: timeline,
		router:   router,
		sources:  sources,
		log:      log,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a session from idle or error. Credentials validate before
// anything is acquired; a missing credential moves straight to the error
// state without touching the device or the network.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.cfg.APIKey == "" {
		c.state = StateErrored
		c.mu.Unlock()
		c.notify(StateErrored)
		return &ConfigError{Reason: "missing API key"}
	}
	c.gen++
	myGen := c.gen
	c.ctx = ctx
	c.state = StateConnecting
	c.mu.Unlock()
	c.notify(StateConnecting)

	go c.connect(ctx, myGen)
	return nil
}

func (c *Controller) connect(ctx context.Context, myGen uint64) {
	// The dialer's read loop may fire callbacks before Dial returns, so
	// every callback waits on ready until the handle is stored. Otherwise
	// an early setupComplete would bind the pipeline to a nil handle.
	ready := make(chan struct{})
	cb := Callbacks{
		OnOpen:    func() { <-ready; c.onOpen(myGen) },
		OnMessage: func(ev *ServerEvent) { <-ready; c.onMessage(myGen, ev) },
		OnError:   func(err error) { <-ready; c.onTransportError(myGen, err) },
		OnClose:   func() { <-ready; c.onTransportClose(myGen) },
	}

	handle, err := c.dialer.Dial(ctx, c.cfg, cb)
	if err != nil {
		c.log.Error("session connect failed", "err", err)
		c.transition(myGen, StateErrored)
		return
	}

	c.mu.Lock()
	if c.gen != myGen {
		// Stopped while dialing; the fresh handle belongs to no session.
		c.mu.Unlock()
		close(ready)
		_ = handle.Close()
		return
	}
	c.handle = handle
	c.mu.Unlock()
	close(ready)
}

// onOpen moves CONNECTING to CONNECTED: the microphone is acquired and the
// capture pipeline bound to the now-present handle.
func (c *Controller) onOpen(myGen uint64) {
	c.mu.Lock()
	if c.gen != myGen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	handle := c.handle
	c.mu.Unlock()

	src, err := c.sources()
	if err != nil {
		c.log.Error("acquire input device failed", "err", err)
		c.shutdown(myGen, StateErrored)
		return
	}

	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		_ = src.Close()
		return
	}
	c.src = src
	c.state = StateConnected
	c.mu.Unlock()

	c.pipeline.Bind(handle)
	if err := c.pipeline.Start(src); err != nil {
		c.log.Error("start capture failed", "err", err)
		c.shutdown(myGen, StateErrored)
		return
	}
	c.notify(StateConnected)
}

func (c *Controller) onMessage(myGen uint64, ev *ServerEvent) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	handle := c.handle
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	c.router.HandleEvent(ctx, handle, ev)
}

func (c *Controller) onTransportError(myGen uint64, err error) {
	c.log.Error("transport error", "err", err)
	c.shutdown(myGen, StateErrored)
}

func (c *Controller) onTransportClose(myGen uint64) {
	c.shutdown(myGen, StateIdle)
}

// Stop ends the session from any state, including mid-connect. Safe to
// call repeatedly.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.gen++
	handle, src := c.handle, c.src
	c.handle, c.src = nil, nil
	changed := c.state != StateIdle
	c.state = StateIdle
	c.mu.Unlock()

	err := c.cleanup(handle, src)
	if changed {
		c.notify(StateIdle)
	}
	return err
}

// shutdown releases resources and lands in the given state, but only if
// myGen is still the live session.
func (c *Controller) shutdown(myGen uint64, to State) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	c.gen++
	handle, src := c.handle, c.src
	c.handle, c.src = nil, nil
	c.state = to
	c.mu.Unlock()

	if err := c.cleanup(handle, src); err != nil {
		c.log.Warn("session cleanup", "err", err)
	}
	c.notify(to)
}

// cleanup runs every teardown step even when earlier steps fail: stop
// capture, close the transport, release the device, clear the timeline.
func (c *Controller) cleanup(handle Handle, src capture.Source) error {
	var errs []error

	c.pipeline.Unbind()
	if err := c.pipeline.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	if src != nil {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release device: %w", err))
		}
	}
	c.timeline.Interrupt()

	return errors.Join(errs...)
}

func (c *Controller) transition(myGen uint64, to State) {
	c.mu.Lock()
	if c.gen != myGen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = to
	c.mu.Unlock()
	c.notify(to)
}

func (c *Controller) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}
