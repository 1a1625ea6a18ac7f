// Package wake delivers activation signals from an external trigger. The
// trigger is a collaborator, not a detector: detection quality lives
// outside this process.
package wake

import (
	"bufio"
	"io"
	"log/slog"
	"sync"
)

// Trigger emits one signal per detected activation.
type Trigger interface {
	// Activations yields one value per activation. The channel closes when
	// the trigger shuts down.
	Activations() <-chan struct{}
	Close() error
}

// LineTrigger treats each line on a reader as one activation. It stands in
// for a hotword engine during development and doubles as the keyboard
// toggle in the headless CLI.
type LineTrigger struct {
	activations chan struct{}
	log         *slog.Logger

	// onListening, when set, reports whether the trigger is live.
	onListening func(bool)

	closeOnce sync.Once
	done      chan struct{}
}

// NewLineTrigger starts reading activations from r. onListening may be nil.
func NewLineTrigger(r io.Reader, log *slog.Logger, onListening func(bool)) *LineTrigger {
	if log == nil {
		log = slog.Default()
	}
	t := &LineTrigger{
		activations: make(chan struct{}, 1),
		log:         log,
		onListening: onListening,
		done:        make(chan struct{}),
	}
	if t.onListening != nil {
		t.onListening(true)
	}
	go t.readLoop(r)
	return t
}

func (t *LineTrigger) Activations() <-chan struct{} {
	return t.activations
}

// Close stops delivery. Pending activations are discarded.
func (t *LineTrigger) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.onListening != nil {
			t.onListening(false)
		}
	})
	return nil
}

func (t *LineTrigger) readLoop(r io.Reader) {
	defer close(t.activations)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-t.done:
			return
		default:
		}
		select {
		case t.activations <- struct{}{}:
		default:
			// An unconsumed activation is stale; drop it.
		}
	}
	if err := scanner.Err(); err != nil {
		t.log.Warn("wake trigger read failed", "err", err)
	}
}
