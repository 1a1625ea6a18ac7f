package session

import "sync"

// TranscriptAccumulator holds the growing partial transcripts for the two
// speakers in the current turn. Both buffers clear together on turn
// completion; nothing else touches the pair.
type TranscriptAccumulator struct {
	mu    sync.Mutex
	user  string
	model string

	// onChange, when set, fires after every mutation with the new pair.
	onChange func(user, model string)
}

// NewTranscriptAccumulator creates an empty accumulator. onChange may be
// nil.
func NewTranscriptAccumulator(onChange func(user, model string)) *TranscriptAccumulator {
	return &TranscriptAccumulator{onChange: onChange}
}

// AppendUser appends a user-side transcript delta.
func (a *TranscriptAccumulator) AppendUser(text string) {
	a.mu.Lock()
	a.user += text
	user, model := a.user, a.model
	a.mu.Unlock()
	a.notify(user, model)
}

// AppendModel appends a model-side transcript delta.
func (a *TranscriptAccumulator) AppendModel(text string) {
	a.mu.Lock()
	a.model += text
	user, model := a.user, a.model
	a.mu.Unlock()
	a.notify(user, model)
}

// Clear resets both buffers atomically.
func (a *TranscriptAccumulator) Clear() {
	a.mu.Lock()
	a.user, a.model = "", ""
	a.mu.Unlock()
	a.notify("", "")
}

// Snapshot returns the current pair.
func (a *TranscriptAccumulator) Snapshot() (user, model string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user, a.model
}

func (a *TranscriptAccumulator) notify(user, model string) {
	if a.onChange != nil {
		a.onChange(user, model)
	}
}
