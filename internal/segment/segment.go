package segment

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Encoding is the audio codec a segment is stored with
type Encoding string

const (
	EncodingAAC Encoding = "aac" // AAC in an MP4 (.m4a) container
	EncodingPCM Encoding = "pcm" // 16-bit signed PCM in a WAV container
)

// Extension returns the file extension for the encoding's container
func (e Encoding) Extension() string {
	if e == EncodingAAC {
		return ".m4a"
	}
	return ".wav"
}

// ContentType returns the MIME type used when uploading the segment
func (e Encoding) ContentType() string {
	if e == EncodingAAC {
		return "audio/mp4"
	}
	return "audio/wav"
}

// Quality is the encoder quality preset
type Quality string

const (
	QualityMin    Quality = "min"
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityMax    Quality = "max"
)

// Bitrate maps the preset to an AAC bitrate in kbit/s for mono 16 kHz audio
func (q Quality) Bitrate() int {
	switch q {
	case QualityMin:
		return 24
	case QualityLow:
		return 32
	case QualityMedium:
		return 48
	case QualityMax:
		return 96
	default:
		return 64
	}
}

// Format describes how a segment is captured and stored
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
	Quality    Quality
}

// DefaultFormat is 16 kHz mono AAC at high quality
func DefaultFormat() Format {
	return Format{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   EncodingAAC,
		Quality:    QualityHigh,
	}
}

// Segment is one bounded recording chunk. Frames counts sample frames
// (one sample per channel); VoicedFrames counts those inside windows the
// voice gate classified as speech.
//
// A segment is only written while the session records into it; once
// FinalizedAt is set it is read-only.
type Segment struct {
	ID           uuid.UUID
	Path         string
	Format       Format
	StartedAt    time.Time
	FinalizedAt  time.Time
	Frames       int64
	VoicedFrames int64
}

// New creates a segment with a fresh time-ordered identifier
func New(path string, format Format, started time.Time) (Segment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Segment{}, err
	}
	return Segment{
		ID:        id,
		Path:      path,
		Format:    format,
		StartedAt: started,
	}, nil
}

// RawPath is where the capture device writes PCM before the segment is
// encoded. For PCM segments it is the segment path itself.
func (s Segment) RawPath() string {
	if s.Format.Encoding == EncodingPCM {
		return s.Path
	}
	return strings.TrimSuffix(s.Path, filepath.Ext(s.Path)) + ".wav"
}

// Finalized reports whether the segment has been stopped
func (s Segment) Finalized() bool {
	return !s.FinalizedAt.IsZero()
}

// Duration returns the captured audio length
func (s Segment) Duration() time.Duration {
	if s.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames) * time.Second / time.Duration(s.Format.SampleRate)
}
