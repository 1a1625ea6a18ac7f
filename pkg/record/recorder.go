// Package record archives response audio to WAV files.
package record

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	wave "github.com/zenwerk/go-wave"
)

// Recorder appends 16-bit mono samples to one WAV file per session.
type Recorder struct {
	mu     sync.Mutex
	file   afero.File
	writer *wave.Writer
	closed bool
}

// New creates a WAV file under dir named by the current time and returns a
// recorder writing to it.
func New(fs afero.Fs, dir string, sampleRate int) (*Recorder, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir %s: %w", dir, err)
	}
	name := filepath.Join(dir, time.Now().Format("20060102-150405")+".wav")
	file, err := fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create recording %s: %w", name, err)
	}

	writer, err := wave.NewWriter(wave.WriterParam{
		Out:           file,
		Channel:       1,
		SampleRate:    sampleRate,
		BitsPerSample: 16,
	})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open wave writer: %w", err)
	}
	return &Recorder{file: file, writer: writer}, nil
}

// WriteSamples appends one chunk of samples.
func (r *Recorder) WriteSamples(samples []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if _, err := r.writer.WriteSample16(samples); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return nil
}

// Close finalizes the WAV header. Safe to call once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("close wave writer: %w", err)
	}
	return nil
}
