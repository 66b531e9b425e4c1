package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/amanullahtanweer/speaker-recognizer/internal/vad"
)

var errSinkClosed = errors.New("recording already stopped")

// sink receives PCM for one recording: it writes the WAV file, feeds the
// level meter and counts voiced frames.
type sink struct {
	mu       sync.Mutex
	wav      *segment.WAVWriter
	meter    *Meter
	gate     vad.Gate
	channels int
	rate     int
	pending  []int16
	frames   int64
	voiced   int64
	closed   bool
}

func newSink(path string, opts Options) (*sink, error) {
	f := opts.Format
	wav, err := segment.CreateWAV(path, f.SampleRate, f.Channels)
	if err != nil {
		return nil, err
	}
	s := &sink{
		wav:      wav,
		meter:    NewMeter(),
		channels: f.Channels,
		rate:     f.SampleRate,
	}
	// the gate only understands mono frames
	if opts.Gate != nil && f.Channels == 1 {
		s.gate = opts.Gate
	}
	return s, nil
}

func (s *sink) write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSinkClosed
	}
	if err := s.wav.WriteSamples(samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	s.frames += int64(len(samples) / s.channels)
	s.meter.Add(samples)

	if s.gate != nil {
		s.classify(samples)
	}
	return nil
}

// classify runs complete gate frames; a remainder waits for the next write
func (s *sink) classify(samples []int16) {
	size := s.gate.FrameSize()
	s.pending = append(s.pending, samples...)
	for len(s.pending) >= size {
		frame := s.pending[:size]
		speech, err := s.gate.IsSpeech(frame)
		// a gate failure must never make a segment look silent
		if err != nil || speech {
			s.voiced += int64(size)
		}
		s.pending = s.pending[size:]
	}
	if len(s.pending) == 0 {
		s.pending = nil
	}
}

func (s *sink) averagePower() float64 {
	return s.meter.AveragePower()
}

func (s *sink) close() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Frames: s.frames, VoicedFrames: s.voiced}
	if s.gate == nil {
		stats.VoicedFrames = s.frames
	}
	if s.closed {
		return stats, nil
	}
	s.closed = true
	if err := s.wav.Close(); err != nil {
		return stats, err
	}
	return stats, nil
}
