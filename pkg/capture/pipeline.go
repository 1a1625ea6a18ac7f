// Package capture pulls fixed-size sample frames from a live input device,
// encodes them, and forwards them to the transport at the device cadence.
package capture

import (
	"log/slog"
	"sync"

	"github.com/murmurkit/murmur/pkg/audio"
)

// DefaultBlockSize is the per-tick frame length in samples.
const DefaultBlockSize = 4096

// Source is a live input device delivering one fixed-size frame of
// normalized samples per processing tick.
type Source interface {
	// Start attaches the frame callback and begins delivery. The callback
	// must not retain the frame slice past its return.
	Start(onFrame func([]float32)) error
	// Stop detaches the callback. Idempotent.
	Stop() error
	// Close releases the underlying device. Idempotent.
	Close() error
}

// Realtime is the transport channel frames are forwarded to.
type Realtime interface {
	SendRealtimeInput(blob audio.Blob) error
}

// Stats counts per-tick outcomes.
type Stats interface {
	FrameSent()
	FrameDropped()
}

type nopStats struct{}

func (nopStats) FrameSent()    {}
func (nopStats) FrameDropped() {}

// Pipeline encodes captured frames and forwards them to the bound session.
// Frames that arrive while no session is bound are dropped, never queued:
// buffering audio captured before the transport opens would replay stale
// speech after a slow connect.
type Pipeline struct {
	sampleRate int
	log        *slog.Logger
	stats      Stats

	mu      sync.Mutex
	src     Source
	sess    Realtime
	muted   bool
	started bool
}

// NewPipeline creates a capture pipeline encoding at the given input rate.
func NewPipeline(sampleRate int, log *slog.Logger, stats Stats) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if stats == nil {
		stats = nopStats{}
	}
	return &Pipeline{
		sampleRate: sampleRate,
		log:        log,
		stats:      stats,
	}
}

// Bind sets the session frames are forwarded to.
func (p *Pipeline) Bind(sess Realtime) {
	p.mu.Lock()
	p.sess = sess
	p.mu.Unlock()
}

// Unbind clears the session reference; subsequent frames are dropped.
func (p *Pipeline) Unbind() {
	p.Bind(nil)
}

// SetMuted toggles the mute flag. Muted frames are dropped at the pipeline,
// the device keeps running.
func (p *Pipeline) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// Muted reports the mute flag.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Start attaches the frame callback to src. Returns the source's error when
// the device cannot start.
func (p *Pipeline) Start(src Source) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.src = src
	p.started = true
	p.mu.Unlock()

	if err := src.Start(p.handleFrame); err != nil {
		p.mu.Lock()
		p.src = nil
		p.started = false
		p.mu.Unlock()
		return err
	}
	return nil
}

// Stop detaches the frame callback and stops the device track. Calling it
// twice, or before Start, is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	src := p.src
	p.src = nil
	p.started = false
	p.mu.Unlock()

	if src == nil {
		return nil
	}
	return src.Stop()
}

func (p *Pipeline) handleFrame(frame []float32) {
	p.mu.Lock()
	sess := p.sess
	muted := p.muted
	p.mu.Unlock()

	if sess == nil || muted {
		p.stats.FrameDropped()
		return
	}

	blob, err := audio.EncodeFrame(frame, p.sampleRate)
	if err != nil {
		p.stats.FrameDropped()
		p.log.Warn("encode capture frame failed", "err", err)
		return
	}

	// Fire and forget: a failed tick is logged and dropped so a slow or
	// broken transport never stalls capture.
	if err := sess.SendRealtimeInput(blob); err != nil {
		p.stats.FrameDropped()
		p.log.Warn("send capture frame failed", "err", err)
		return
	}
	p.stats.FrameSent()
}
