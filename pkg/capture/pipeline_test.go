package capture

import (
	"errors"
	"sync"
	"testing"

	"github.com/murmurkit/murmur/pkg/audio"
)

type fakeSource struct {
	mu      sync.Mutex
	onFrame func([]float32)
	stops   int
	closes  int
}

func (s *fakeSource) Start(onFrame func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = onFrame
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.onFrame = nil
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource) tick(frame []float32) {
	s.mu.Lock()
	cb := s.onFrame
	s.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

type fakeRealtime struct {
	mu    sync.Mutex
	sent  []audio.Blob
	fail  bool
}

func (r *fakeRealtime) SendRealtimeInput(blob audio.Blob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("transport stalled")
	}
	r.sent = append(r.sent, blob)
	return nil
}

func (r *fakeRealtime) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type countingStats struct {
	mu      sync.Mutex
	sent    int
	dropped int
}

func (c *countingStats) FrameSent() {
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
}

func (c *countingStats) FrameDropped() {
	c.mu.Lock()
	c.dropped++
	c.mu.Unlock()
}

func TestPipeline_DropsFramesWithoutSession(t *testing.T) {
	src := &fakeSource{}
	stats := &countingStats{}
	p := NewPipeline(16000, nil, stats)

	if err := p.Start(src); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Device is live before the transport opened: frames are dropped, not
	// queued.
	src.tick(make([]float32, 8))
	src.tick(make([]float32, 8))
	if stats.dropped != 2 {
		t.Fatalf("dropped = %d, want 2", stats.dropped)
	}

	rt := &fakeRealtime{}
	p.Bind(rt)
	src.tick(make([]float32, 8))
	if rt.count() != 1 {
		t.Fatalf("sent after bind = %d, want 1", rt.count())
	}
	if stats.sent != 1 {
		t.Fatalf("stats.sent = %d, want 1", stats.sent)
	}

	p.Unbind()
	src.tick(make([]float32, 8))
	if rt.count() != 1 {
		t.Fatalf("sent after unbind = %d, want 1", rt.count())
	}
}

func TestPipeline_SendErrorDoesNotStallCapture(t *testing.T) {
	src := &fakeSource{}
	stats := &countingStats{}
	p := NewPipeline(16000, nil, stats)
	rt := &fakeRealtime{fail: true}

	if err := p.Start(src); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Bind(rt)

	src.tick(make([]float32, 8))
	src.tick(make([]float32, 8))

	if stats.dropped != 2 {
		t.Fatalf("dropped = %d, want 2 (errors swallowed per tick)", stats.dropped)
	}

	// Transport recovers; next tick goes through.
	rt.mu.Lock()
	rt.fail = false
	rt.mu.Unlock()
	src.tick(make([]float32, 8))
	if rt.count() != 1 {
		t.Fatalf("sent = %d, want 1 after recovery", rt.count())
	}
}

func TestPipeline_Muted(t *testing.T) {
	src := &fakeSource{}
	p := NewPipeline(16000, nil, nil)
	rt := &fakeRealtime{}

	p.Start(src)
	p.Bind(rt)
	p.SetMuted(true)
	src.tick(make([]float32, 8))
	if rt.count() != 0 {
		t.Fatalf("sent while muted = %d, want 0", rt.count())
	}
	p.SetMuted(false)
	src.tick(make([]float32, 8))
	if rt.count() != 1 {
		t.Fatalf("sent after unmute = %d, want 1", rt.count())
	}
}

func TestPipeline_StopIdempotent(t *testing.T) {
	src := &fakeSource{}
	p := NewPipeline(16000, nil, nil)

	// Stop before Start is a no-op.
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() before Start error = %v", err)
	}
	if src.stops != 0 {
		t.Fatalf("stops = %d, want 0", src.stops)
	}

	p.Start(src)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if src.stops != 1 {
		t.Fatalf("stops = %d, want 1", src.stops)
	}

	// A stopped pipeline drops frames silently even with a session bound.
	p.Bind(&fakeRealtime{})
	src.tick(make([]float32, 8))
}
