package capture

import (
	"errors"

	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/amanullahtanweer/speaker-recognizer/internal/vad"
)

var (
	// ErrDeviceUnavailable covers missing hardware, denied permission and
	// failed driver initialisation
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrDeviceBusy is returned when a recorder is already open
	ErrDeviceBusy = errors.New("capture device busy")
)

// SilenceLevel is the average power reported for digital silence, in dBFS
const SilenceLevel = -160.0

// Options configures one recording
type Options struct {
	Format segment.Format
	Gate   vad.Gate // optional
}

// Device opens recorders that write captured audio into a WAV file
type Device interface {
	Open(path string, opts Options) (Recorder, error)
	Close() error
}

// Recorder is an open capture writing one segment
type Recorder interface {
	// AveragePower returns the average input power in dBFS over the
	// audio received since the previous call
	AveragePower() float64

	// Stop ends the capture and finalizes the file
	Stop() (Stats, error)
}

// Stats summarises a finished recording
type Stats struct {
	Frames       int64
	VoicedFrames int64
}
