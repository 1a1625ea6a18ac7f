package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// DeviceSource captures fixed-size blocks from the default input device
// through portaudio. The caller must have initialized portaudio.
type DeviceSource struct {
	sampleRate int
	blockSize  int
	log        *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	in      []float32
	running bool
	closed  bool
	done    chan struct{}
}

// OpenDeviceSource opens the default input device at the given rate,
// delivering blockSize samples per tick. A nil logger falls back to
// slog.Default.
func OpenDeviceSource(sampleRate, blockSize int, log *slog.Logger) (*DeviceSource, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if log == nil {
		log = slog.Default()
	}
	s := &DeviceSource{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		log:        log,
		in:         make([]float32, blockSize),
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), blockSize, s.in)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Start begins the read loop, invoking onFrame once per captured block.
func (s *DeviceSource) Start(onFrame func([]float32)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("start capture: device is closed")
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if err := s.stream.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("start input stream: %w", err)
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.readLoop(onFrame, done)
	return nil
}

func (s *DeviceSource) readLoop(onFrame func([]float32), done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			select {
			case <-done:
				// Stopped on purpose; the failed read is just the
				// stream being torn down under us.
			default:
				s.log.Warn("input stream read failed, capture stopped", "error", err)
			}
			return
		}
		frame := make([]float32, len(s.in))
		copy(frame, s.in)
		onFrame(frame)
	}
}

// Stop halts frame delivery. Idempotent.
func (s *DeviceSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop input stream: %w", err)
	}
	return nil
}

// Close releases the device. Idempotent; stops delivery first if needed.
func (s *DeviceSource) Close() error {
	_ = s.Stop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	return nil
}
