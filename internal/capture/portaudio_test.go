package capture

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

func newTestRecorder(t *testing.T) *paRecorder {
	t.Helper()
	s, err := newSink(filepath.Join(t.TempDir(), "a.wav"), pcmOptions(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.close() })
	return &paRecorder{
		sink: s,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func TestCaptureLoopGivesUpOnRepeatedReadErrors(t *testing.T) {
	r := newTestRecorder(t)
	reads := 0
	read := func() error {
		reads++
		return errors.New("device unplugged")
	}

	go r.captureLoop(read, make([]int16, 160))
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		close(r.stop)
		t.Fatal("capture loop kept reading a failing stream")
	}

	if reads != maxReadErrors {
		t.Errorf("reads = %d, want %d", reads, maxReadErrors)
	}
	if !errors.Is(r.readErr, ErrDeviceUnavailable) {
		t.Errorf("readErr = %v, want ErrDeviceUnavailable", r.readErr)
	}
}

func TestCaptureLoopKeepsOverflowedBuffers(t *testing.T) {
	r := newTestRecorder(t)
	reads := 0
	read := func() error {
		reads++
		if reads == 3 {
			close(r.stop)
		}
		return portaudio.InputOverflowed
	}

	go r.captureLoop(read, make([]int16, 160))
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not stop")
	}

	if r.readErr != nil {
		t.Errorf("readErr = %v after overflows", r.readErr)
	}
	stats, err := r.sink.close()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Frames != 3*160 {
		t.Errorf("frames = %d, want %d", stats.Frames, 3*160)
	}
}
