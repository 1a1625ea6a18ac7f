package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/murmurkit/murmur/pkg/audio"
)

const deviceWriteBlock = 1024

// DeviceEngine renders scheduled buffers to the default output device
// through portaudio. One feeder goroutine owns the stream; buffers are
// written in submission order, which matches timeline order because the
// scheduler hands them over back-to-back.
type DeviceEngine struct {
	sampleRate int
	channels   int
	log        *slog.Logger

	stream *portaudio.Stream
	out    []float32
	epoch  time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*deviceItem
	closed bool
}

type deviceItem struct {
	buf    *audio.Buffer
	at     float64
	onDone func()

	mu        sync.Mutex
	cancelled bool
}

func (it *deviceItem) stop() {
	it.mu.Lock()
	it.cancelled = true
	it.mu.Unlock()
}

func (it *deviceItem) isCancelled() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cancelled
}

// Stop implements Player.
func (it *deviceItem) Stop() { it.stop() }

// NewDeviceEngine opens the default output device at the given rate and
// channel count. The caller must have initialized portaudio.
func NewDeviceEngine(sampleRate, channels int, log *slog.Logger) (*DeviceEngine, error) {
	if log == nil {
		log = slog.Default()
	}
	e := &DeviceEngine{
		sampleRate: sampleRate,
		channels:   channels,
		log:        log,
		out:        make([]float32, deviceWriteBlock*channels),
		epoch:      time.Now(),
	}
	e.cond = sync.NewCond(&e.mu)

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), deviceWriteBlock, e.out)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	e.stream = stream

	go e.feed()
	return e, nil
}

// Now returns seconds since the engine opened the device.
func (e *DeviceEngine) Now() float64 {
	return time.Since(e.epoch).Seconds()
}

// Play queues buf to start rendering at device time `at`.
func (e *DeviceEngine) Play(buf *audio.Buffer, at float64, onDone func()) (Player, error) {
	item := &deviceItem{buf: buf, at: at, onDone: onDone}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("play: engine is closed")
	}
	e.queue = append(e.queue, item)
	e.cond.Signal()
	e.mu.Unlock()
	return item, nil
}

// Close stops the feeder and releases the device stream. Queued items are
// completed without rendering.
func (e *DeviceEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cond.Signal()
	e.mu.Unlock()

	if err := e.stream.Stop(); err != nil {
		_ = e.stream.Close()
		return fmt.Errorf("stop output stream: %w", err)
	}
	if err := e.stream.Close(); err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	return nil
}

func (e *DeviceEngine) feed() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			pending := e.queue
			e.queue = nil
			e.mu.Unlock()
			for _, it := range pending {
				it.onDone()
			}
			return
		}
		item := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.render(item)
		item.onDone()
	}
}

func (e *DeviceEngine) render(item *deviceItem) {
	// Wait out any lead time, waking often enough to notice a stop.
	for {
		if item.isCancelled() || e.isClosed() {
			return
		}
		lead := item.at - e.Now()
		if lead <= 0 {
			break
		}
		if lead > 0.01 {
			lead = 0.01
		}
		time.Sleep(time.Duration(lead * float64(time.Second)))
	}

	samples := item.buf.Samples
	for len(samples) > 0 {
		if item.isCancelled() || e.isClosed() {
			return
		}
		n := copy(e.out, samples)
		samples = samples[n:]
		for i := n; i < len(e.out); i++ {
			e.out[i] = 0
		}
		if err := e.stream.Write(); err != nil {
			e.log.Warn("output stream write failed", "err", err)
			return
		}
	}
}

func (e *DeviceEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
