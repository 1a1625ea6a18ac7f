// Package playback schedules decoded response audio onto a gapless output
// timeline and owns the set of in-flight playback handles.
package playback

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/murmurkit/murmur/pkg/audio"
)

// Player is one device-level playback started by an Engine. Stop is a no-op
// once the playback has naturally finished.
type Player interface {
	Stop()
}

// Engine abstracts the output audio device. Now returns the device clock in
// seconds; Play begins rendering buf at the given device time and invokes
// onDone exactly once when rendering ends, whether it finished or was
// stopped.
type Engine interface {
	Now() float64
	Play(buf *audio.Buffer, at float64, onDone func()) (Player, error)
}

// Handle represents one scheduled chunk from the moment it is scheduled until
// its end-of-playback callback fires or it is stopped. The scheduler's active
// set is the only owner; removal from that set is the only destruction path.
type Handle struct {
	StartTime float64
	EndTime   float64

	player Player
}

// Scheduler owns the monotonically advancing "next play time" cursor and the
// live set of handles. Chunks submitted back-to-back play with no gaps: the
// cursor is the single source of truth for when the next chunk starts.
type Scheduler struct {
	engine Engine
	log    *slog.Logger

	mu         sync.Mutex
	cursor     float64
	active     map[*Handle]struct{}
	onSpeaking func(bool)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSpeakingFunc registers a callback fired on transitions of the active
// set between empty and non-empty. The callback runs without the scheduler
// lock held.
func WithSpeakingFunc(fn func(bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// WithLogger sets the scheduler logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// NewScheduler creates a scheduler over the given engine.
func NewScheduler(engine Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine: engine,
		active: make(map[*Handle]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Now returns the engine's device clock.
func (s *Scheduler) Now() float64 {
	return s.engine.Now()
}

// Schedule queues buf for playback immediately after everything already
// scheduled, never earlier than deviceNow. The returned handle joins the
// active set until its natural end or an Interrupt.
func (s *Scheduler) Schedule(buf *audio.Buffer, deviceNow float64) (*Handle, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, fmt.Errorf("schedule playback: empty buffer")
	}

	s.mu.Lock()
	if deviceNow > s.cursor {
		s.cursor = deviceNow
	}
	h := &Handle{
		StartTime: s.cursor,
		EndTime:   s.cursor + buf.Duration(),
	}
	s.cursor = h.EndTime
	wasEmpty := len(s.active) == 0
	s.active[h] = struct{}{}
	s.mu.Unlock()

	// Report the speaking transition before handing the buffer to the
	// engine. An engine that completes synchronously fires complete, and
	// with it speaking(false), from inside Play; the true side of the pair
	// must already have gone out.
	if wasEmpty {
		s.speaking(true)
	}

	player, err := s.engine.Play(buf, h.StartTime, func() { s.complete(h) })
	if err != nil {
		s.mu.Lock()
		_, present := s.active[h]
		delete(s.active, h)
		nowEmpty := len(s.active) == 0
		s.mu.Unlock()
		if present && nowEmpty {
			s.speaking(false)
		}
		return nil, fmt.Errorf("schedule playback: %w", err)
	}

	s.mu.Lock()
	h.player = player
	_, stillActive := s.active[h]
	s.mu.Unlock()
	if !stillActive {
		// Interrupted or completed while Play was in flight. Stop is a
		// no-op for a finished player.
		player.Stop()
	}
	return h, nil
}

// Interrupt stops every active handle, clears the set, and resets the cursor
// to zero. Safe to call at any time, including with no active handles;
// stopping a handle that already finished is a no-op.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	players := make([]Player, 0, len(s.active))
	for h := range s.active {
		if h.player != nil {
			players = append(players, h.player)
		}
	}
	hadActive := len(s.active) > 0
	s.active = make(map[*Handle]struct{})
	s.cursor = 0
	s.mu.Unlock()

	for _, p := range players {
		p.Stop()
	}
	if hadActive {
		s.speaking(false)
	}
}

// Cursor returns the current "next play time" value.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// ActiveCount returns the number of in-flight handles.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) complete(h *Handle) {
	s.mu.Lock()
	if _, ok := s.active[h]; !ok {
		// Already removed by Interrupt; the engine's stop raced the
		// natural end of playback.
		s.mu.Unlock()
		return
	}
	delete(s.active, h)
	nowEmpty := len(s.active) == 0
	s.mu.Unlock()

	if nowEmpty {
		s.speaking(false)
	}
}

func (s *Scheduler) speaking(on bool) {
	if s.onSpeaking != nil {
		s.onSpeaking(on)
	}
}
