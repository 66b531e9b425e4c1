package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// Gate classifies fixed-size PCM frames as speech or silence
type Gate interface {
	// FrameSize is the number of samples IsSpeech expects
	FrameSize() int
	IsSpeech(frame []int16) (bool, error)
}

// WebRTC implements Gate using WebRTC's voice activity detector
type WebRTC struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
	buf        []byte
}

// NewWebRTC creates a detector for the given sample rate and
// aggressiveness mode (0-3, higher filters more)
func NewWebRTC(sampleRate, mode int) (*WebRTC, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("invalid sample rate %d, must be 8000, 16000, 32000 or 48000", sampleRate)
	}
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("mode must be between 0 and 3")
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}

	return &WebRTC{
		vad:        v,
		sampleRate: sampleRate,
		mode:       mode,
		buf:        make([]byte, sampleRate/100*2),
	}, nil
}

// FrameSize returns the number of samples in 10ms at the configured rate
func (w *WebRTC) FrameSize() int {
	return w.sampleRate / 100
}

// IsSpeech classifies one 10ms frame
func (w *WebRTC) IsSpeech(frame []int16) (bool, error) {
	if len(frame) != w.FrameSize() {
		return false, fmt.Errorf("frame has %d samples, want %d", len(frame), w.FrameSize())
	}
	for i, s := range frame {
		w.buf[i*2] = byte(s)
		w.buf[i*2+1] = byte(s >> 8)
	}
	active, err := w.vad.Process(w.sampleRate, w.buf)
	if err != nil {
		return false, fmt.Errorf("VAD processing failed: %w", err)
	}
	return active, nil
}

// Mode returns the aggressiveness mode
func (w *WebRTC) Mode() int {
	return w.mode
}
