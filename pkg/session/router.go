package session

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"

	"github.com/murmurkit/murmur/pkg/audio"
	"github.com/murmurkit/murmur/pkg/playback"
	"github.com/murmurkit/murmur/pkg/tools"
)

// Timeline is the slice of the playback scheduler the router drives.
type Timeline interface {
	Now() float64
	Schedule(buf *audio.Buffer, deviceNow float64) (*playback.Handle, error)
	Interrupt()
}

// ToolRunner resolves tool-call batches.
type ToolRunner interface {
	Dispatch(ctx context.Context, calls []tools.Call) <-chan tools.Response
}

// Recorder receives decoded response audio for archival.
type Recorder interface {
	WriteSamples(samples []int16) error
}

// RouterStats counts inbound chunk outcomes.
type RouterStats interface {
	ChunkScheduled()
	ChunkDropped()
}

type nopRouterStats struct{}

func (nopRouterStats) ChunkScheduled() {}
func (nopRouterStats) ChunkDropped()   {}

// Router applies the effects of each inbound event: transcript updates,
// interruption, audio scheduling, and tool dispatch. It must be driven
// from a single goroutine so events keep their arrival order; the
// websocket read loop provides that.
type Router struct {
	timeline   Timeline
	transcript *TranscriptAccumulator
	runner     ToolRunner
	log        *slog.Logger
	stats      RouterStats

	sampleRate int
	channels   int

	recorder Recorder
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRecorder mirrors decoded response audio into rec.
func WithRecorder(rec Recorder) RouterOption {
	return func(r *Router) { r.recorder = rec }
}

// WithRouterStats installs chunk outcome counters.
func WithRouterStats(stats RouterStats) RouterOption {
	return func(r *Router) { r.stats = stats }
}

// NewRouter creates an event router. sampleRate is the default playback
// rate used when a chunk's MIME descriptor does not carry one.
func NewRouter(timeline Timeline, transcript *TranscriptAccumulator, runner ToolRunner, sampleRate int, log *slog.Logger, opts ...RouterOption) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		timeline:   timeline,
		transcript: transcript,
		runner:     runner,
		log:        log,
		stats:      nopRouterStats{},
		sampleRate: sampleRate,
		channels:   1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent applies every effect the event carries. The effects are
// independent; a single event may carry any combination of them.
func (r *Router) HandleEvent(ctx context.Context, sess Handle, ev *ServerEvent) {
	if ev == nil {
		return
	}

	if t := ev.Transcription; t != nil {
		if t.User != nil {
			r.transcript.AppendUser(t.User.Text)
		}
		if t.Model != nil {
			r.transcript.AppendModel(t.Model.Text)
		}
	}
	if ev.TurnComplete {
		r.transcript.Clear()
	}

	if ev.Interrupted {
		r.timeline.Interrupt()
	}

	if ev.AudioChunk != nil {
		r.scheduleChunk(ev.AudioChunk)
	}

	if len(ev.ToolCalls) > 0 {
		r.dispatchTools(ctx, sess, ev.ToolCalls)
	}
}

func (r *Router) scheduleChunk(chunk *audio.Blob) {
	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		r.stats.ChunkDropped()
		r.log.Warn("audio chunk base64 decode failed", "err", err)
		return
	}
	rate := audio.SampleRateFromMIME(chunk.MIMEType, r.sampleRate)
	buf, err := audio.DecodeToBuffer(raw, rate, r.channels)
	if err != nil {
		// A malformed chunk is dropped; the session continues.
		var decodeErr *audio.DecodeError
		if errors.As(err, &decodeErr) {
			r.stats.ChunkDropped()
			r.log.Warn("audio chunk malformed", "reason", decodeErr.Reason)
			return
		}
		r.stats.ChunkDropped()
		r.log.Warn("audio chunk decode failed", "err", err)
		return
	}

	if r.recorder != nil {
		samples, err := audio.DecodePCM16(raw)
		if err == nil {
			if err := r.recorder.WriteSamples(samples); err != nil {
				r.log.Warn("record response audio failed", "err", err)
			}
		}
	}

	if _, err := r.timeline.Schedule(buf, r.timeline.Now()); err != nil {
		r.stats.ChunkDropped()
		r.log.Warn("schedule audio chunk failed", "err", err)
		return
	}
	r.stats.ChunkScheduled()
}

// dispatchTools forwards responses as each call completes. Every id in the
// batch gets exactly one response; a failed send is logged, never fatal.
func (r *Router) dispatchTools(ctx context.Context, sess Handle, calls []tools.Call) {
	responses := r.runner.Dispatch(ctx, calls)
	go func() {
		for resp := range responses {
			if err := sess.SendToolResponse(resp); err != nil {
				r.log.Warn("send tool response failed", "id", resp.ID, "err", err)
			}
		}
	}()
}
