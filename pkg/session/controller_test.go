package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/murmurkit/murmur/pkg/audio"
	"github.com/murmurkit/murmur/pkg/capture"
	"github.com/murmurkit/murmur/pkg/playback"
	"github.com/murmurkit/murmur/pkg/store"
	"github.com/murmurkit/murmur/pkg/tools"
)

type ctrlHandle struct {
	mu        sync.Mutex
	closed    bool
	frames    int
	toolResps int
}

func (h *ctrlHandle) SendRealtimeInput(blob audio.Blob) error {
	h.mu.Lock()
	h.frames++
	h.mu.Unlock()
	return nil
}

func (h *ctrlHandle) SendToolResponse(resp tools.Response) error {
	h.mu.Lock()
	h.toolResps++
	h.mu.Unlock()
	return nil
}

func (h *ctrlHandle) frameCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames
}

func (h *ctrlHandle) toolResponseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.toolResps
}

func (h *ctrlHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *ctrlHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type ctrlDialer struct {
	mu      sync.Mutex
	dials   int
	err     error
	hold    chan struct{} // when non-nil, Dial blocks until closed
	handle  *ctrlHandle
	lastCB  Callbacks
	entered chan struct{}
}

func (d *ctrlDialer) Dial(ctx context.Context, cfg TransportConfig, cb Callbacks) (Handle, error) {
	d.mu.Lock()
	d.dials++
	d.lastCB = cb
	hold := d.hold
	entered := d.entered
	d.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if hold != nil {
		<-hold
	}
	d.mu.Lock()
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h := &ctrlHandle{}
	d.mu.Lock()
	d.handle = h
	d.mu.Unlock()
	return h, nil
}

func (d *ctrlDialer) callbacks() Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCB
}

type ctrlSource struct {
	mu      sync.Mutex
	starts  int
	stops   int
	closes  int
	onFrame func([]float32)
}

func (s *ctrlSource) Start(onFrame func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.onFrame = onFrame
	return nil
}

func (s *ctrlSource) tick(frame []float32) {
	s.mu.Lock()
	cb := s.onFrame
	s.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

func (s *ctrlSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *ctrlSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

type nullEngine struct{}

func (nullEngine) Now() float64 { return 0 }

func (nullEngine) Play(buf *audio.Buffer, at float64, onDone func()) (playback.Player, error) {
	return nullPlayer{}, nil
}

type nullPlayer struct{}

func (nullPlayer) Stop() {}

func newTestController(dialer Dialer, cfg TransportConfig, src *ctrlSource) (*Controller, *capture.Pipeline, func() []State) {
	pipeline := capture.NewPipeline(16000, nil, nil)
	sched := playback.NewScheduler(nullEngine{})
	transcript := NewTranscriptAccumulator(nil)
	dispatcher := tools.NewDispatcher(store.NewMemory(), nil, nil)
	router := NewRouter(sched, transcript, dispatcher, 24000, nil)

	var mu sync.Mutex
	var states []State
	ctrl := NewController(dialer, cfg, pipeline, sched, router,
		func() (capture.Source, error) { return src, nil },
		nil,
		WithStateFunc(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))
	return ctrl, pipeline, func() []State {
		mu.Lock()
		defer mu.Unlock()
		return append([]State(nil), states...)
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func TestControllerMissingCredentialShortCircuits(t *testing.T) {
	dialer := &ctrlDialer{}
	src := &ctrlSource{}
	ctrl, _, _ := newTestController(dialer, TransportConfig{URL: "ws://x"}, src)

	err := ctrl.Start(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Start() error = %v, want ConfigError", err)
	}
	if ctrl.State() != StateErrored {
		t.Fatalf("state = %v, want error", ctrl.State())
	}
	if dialer.dials != 0 {
		t.Fatal("dialed despite missing credential")
	}
	if src.starts != 0 {
		t.Fatal("acquired device despite missing credential")
	}
}

func TestControllerHappyPath(t *testing.T) {
	dialer := &ctrlDialer{}
	src := &ctrlSource{}
	cfg := TransportConfig{URL: "ws://x", APIKey: "k"}
	ctrl, _, states := newTestController(dialer, cfg, src)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if ctrl.State() != StateConnecting {
		t.Fatalf("state after Start = %v, want connecting", ctrl.State())
	}

	// The capture device is untouched until the transport opens.
	deadline := time.Now().Add(2 * time.Second)
	for dialer.callbacks().OnOpen == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if src.starts != 0 {
		t.Fatal("device started before onopen")
	}

	dialer.callbacks().OnOpen()
	waitForState(t, ctrl, StateConnected)
	if src.starts != 1 {
		t.Fatalf("source starts = %d, want 1", src.starts)
	}

	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("state after Stop = %v, want idle", ctrl.State())
	}
	if !dialer.handle.isClosed() {
		t.Fatal("transport handle not closed")
	}
	if src.closes != 1 {
		t.Fatalf("source closes = %d, want 1", src.closes)
	}

	seq := states()
	want := []State{StateConnecting, StateConnected, StateIdle}
	if len(seq) != len(want) {
		t.Fatalf("state sequence = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", seq, want)
		}
	}
}

func TestControllerStopMidConnecting(t *testing.T) {
	hold := make(chan struct{})
	dialer := &ctrlDialer{hold: hold, entered: make(chan struct{})}
	src := &ctrlSource{}
	cfg := TransportConfig{URL: "ws://x", APIKey: "k"}
	ctrl, _, _ := newTestController(dialer, cfg, src)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-dialer.entered

	// End the session while the dial is still in flight.
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("state = %v, want idle", ctrl.State())
	}

	// The dial eventually completes; its handle belongs to no session and
	// must be closed, not leaked.
	close(hold)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dialer.mu.Lock()
		h := dialer.handle
		dialer.mu.Unlock()
		if h != nil && h.isClosed() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	dialer.mu.Lock()
	h := dialer.handle
	dialer.mu.Unlock()
	if h == nil || !h.isClosed() {
		t.Fatal("stale dial handle not closed")
	}
	if src.starts != 0 {
		t.Fatal("device acquired for a cancelled session")
	}
}

func TestControllerTransportErrorReleasesEverything(t *testing.T) {
	dialer := &ctrlDialer{}
	src := &ctrlSource{}
	cfg := TransportConfig{URL: "ws://x", APIKey: "k"}
	ctrl, _, _ := newTestController(dialer, cfg, src)

	ctrl.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for dialer.callbacks().OnOpen == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	dialer.callbacks().OnOpen()
	waitForState(t, ctrl, StateConnected)

	dialer.callbacks().OnError(&TransportError{Op: "read", Err: errors.New("connection reset")})
	waitForState(t, ctrl, StateErrored)
	if src.closes != 1 {
		t.Fatalf("source closes = %d, want 1", src.closes)
	}
	if !dialer.handle.isClosed() {
		t.Fatal("transport handle not closed")
	}
}

// eagerDialer fires callbacks from its read goroutine before Dial returns,
// the way a fast server's setupComplete can beat the dial call home.
type eagerDialer struct {
	mu     sync.Mutex
	handle *ctrlHandle
}

func (d *eagerDialer) Dial(ctx context.Context, cfg TransportConfig, cb Callbacks) (Handle, error) {
	go func() {
		cb.OnOpen()
		cb.OnMessage(&ServerEvent{ToolCalls: []tools.Call{{ID: "t1", Name: "no_such_tool"}}})
	}()
	// Give the callbacks a head start on the dial return.
	time.Sleep(20 * time.Millisecond)
	h := &ctrlHandle{}
	d.mu.Lock()
	d.handle = h
	d.mu.Unlock()
	return h, nil
}

func TestControllerOpenBeforeDialReturns(t *testing.T) {
	dialer := &eagerDialer{}
	src := &ctrlSource{}
	cfg := TransportConfig{URL: "ws://x", APIKey: "k"}
	ctrl, _, _ := newTestController(dialer, cfg, src)

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, ctrl, StateConnected)

	dialer.mu.Lock()
	h := dialer.handle
	dialer.mu.Unlock()
	if h == nil {
		t.Fatal("no handle stored")
	}

	// The pipeline must be bound to the real handle, not a nil one grabbed
	// before the dial completed: a captured frame has to reach the
	// transport.
	src.tick(make([]float32, 8))
	if got := h.frameCount(); got != 1 {
		t.Fatalf("frames sent = %d, want 1 (pipeline bound before the handle existed)", got)
	}

	// The early tool-call batch is answered on the same handle rather than
	// crashing on a nil interface.
	deadline := time.Now().Add(2 * time.Second)
	for h.toolResponseCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.toolResponseCount() != 1 {
		t.Fatalf("tool responses = %d, want 1", h.toolResponseCount())
	}
}

func TestControllerRestartFromError(t *testing.T) {
	dialer := &ctrlDialer{err: errors.New("dial refused")}
	src := &ctrlSource{}
	cfg := TransportConfig{URL: "ws://x", APIKey: "k"}
	ctrl, _, _ := newTestController(dialer, cfg, src)

	ctrl.Start(context.Background())
	waitForState(t, ctrl, StateErrored)

	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dialer.mu.Lock()
		n := dialer.dials
		dialer.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	dialer.callbacks().OnOpen()
	waitForState(t, ctrl, StateConnected)
	if dialer.dials != 2 {
		t.Fatalf("dials = %d, want 2", dialer.dials)
	}
}
