// Package session owns the live conversation: the websocket transport,
// the inbound event router, the transcript accumulator, and the lifecycle
// state machine tying them to the audio pipelines.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/murmurkit/murmur/pkg/audio"
	"github.com/murmurkit/murmur/pkg/tools"
)

// TranscriptDelta is one partial-transcript fragment.
type TranscriptDelta struct {
	Text string `json:"text"`
}

// Transcription carries per-speaker transcript deltas on an inbound event.
type Transcription struct {
	User  *TranscriptDelta `json:"user,omitempty"`
	Model *TranscriptDelta `json:"model,omitempty"`
}

// ServerEvent is one inbound transport message. All fields are optional
// and independent; a single event may carry any combination of them.
type ServerEvent struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	Transcription *Transcription `json:"transcription,omitempty"`
	TurnComplete  bool           `json:"turnComplete,omitempty"`
	Interrupted   bool           `json:"interrupted,omitempty"`
	AudioChunk    *audio.Blob    `json:"audioChunk,omitempty"`
	ToolCalls     []tools.Call   `json:"toolCalls,omitempty"`
}

// DecodeServerEvent parses one inbound text frame.
func DecodeServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}
	return &ev, nil
}

// setup is the first outbound frame on a fresh connection.
type setupFrame struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// realtimeInputFrame carries captured audio toward the engine.
type realtimeInputFrame struct {
	RealtimeInput realtimeInputBody `json:"realtimeInput"`
}

type realtimeInputBody struct {
	MediaChunks []audio.Blob `json:"mediaChunks"`
}

// toolResponseFrame answers a tool-call batch entry.
type toolResponseFrame struct {
	ToolResponse toolResponseBody `json:"toolResponse"`
}

type toolResponseBody struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response functionResult `json:"response"`
}

type functionResult struct {
	Result any `json:"result"`
}
