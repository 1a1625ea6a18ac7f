// Package audio converts between floating-point sample frames and the
// base64 little-endian 16-bit PCM encoding the transport carries.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// Blob is one wire-transmissible audio payload: base64 text plus the MIME
// descriptor the transport expects (for example "audio/pcm;rate=16000").
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Buffer holds decoded, normalized samples ready for a playback device.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return float64(frames) / float64(b.SampleRate)
}

// DecodeError reports a malformed inbound audio payload. Callers drop the
// offending chunk and keep the session alive.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return "decode audio: " + e.Reason
}

// PCMMIMEType returns the MIME descriptor for raw PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// SampleRateFromMIME extracts the rate parameter from a PCM MIME descriptor,
// falling back to def when absent or malformed.
func SampleRateFromMIME(mimeType string, def int) int {
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "rate=") {
			continue
		}
		var rate int
		if _, err := fmt.Sscanf(part, "rate=%d", &rate); err == nil && rate > 0 {
			return rate
		}
	}
	return def
}

// EncodeFrame converts one captured frame of normalized samples into a wire
// blob. Samples are clamped to [-1, 1], scaled to int16 range, packed
// little-endian, and base64-encoded. Pure; the frame is not retained.
func EncodeFrame(frame []float32, sampleRate int) (Blob, error) {
	if len(frame) == 0 {
		return Blob{}, fmt.Errorf("encode frame: empty frame")
	}
	raw := make([]byte, len(frame)*2)
	for i, s := range frame {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(s*32767)))
	}
	return Blob{
		MIMEType: PCMMIMEType(sampleRate),
		Data:     base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodePCM16 unpacks raw little-endian 16-bit PCM bytes into samples.
func DecodePCM16(raw []byte) ([]int16, error) {
	if len(raw)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd byte length %d", len(raw))}
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, nil
}

// DecodeToBuffer converts raw little-endian 16-bit PCM bytes into a
// device-ready buffer of normalized float32 samples at the given rate and
// channel count.
func DecodeToBuffer(raw []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if channels <= 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	if len(raw) == 0 || len(raw)%(2*channels) != 0 {
		return nil, &DecodeError{
			Reason: fmt.Sprintf("byte length %d is not a positive multiple of %d", len(raw), 2*channels),
		}
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return &Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}
