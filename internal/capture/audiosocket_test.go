package capture

import (
	"encoding/binary"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
)

func idMessage(id uuid.UUID) []byte {
	msg := []byte{0x01, 0x00, 0x10}
	return append(msg, id[:]...)
}

func slinPayload(n int, value int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(value))
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestSocket(t *testing.T) *AudioSocket {
	t.Helper()
	logger, _ := test.NewNullLogger()
	dev, err := NewAudioSocket("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("Failed to create AudioSocket: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestAudioSocketRecordsPeerAudio(t *testing.T) {
	dev := newTestSocket(t)
	path := filepath.Join(t.TempDir(), "seg.wav")

	rec, err := dev.Open(path, pcmOptions(nil))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	conn, err := net.Dial("tcp", dev.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	peer := uuid.New()
	if _, err := conn.Write(idMessage(peer)); err != nil {
		t.Fatalf("Failed to send ID: %v", err)
	}
	waitFor(t, "peer id", func() bool {
		id, ok := dev.Peer()
		return ok && id == peer
	})

	// 20ms at 8 kHz, twice
	for i := 0; i < 2; i++ {
		if _, err := conn.Write(audiosocket.SlinMessage(slinPayload(160, 1000))); err != nil {
			t.Fatalf("Failed to send audio: %v", err)
		}
	}

	sr := rec.(*socketRecorder)
	waitFor(t, "upsampled frames", func() bool {
		sr.sink.mu.Lock()
		defer sr.sink.mu.Unlock()
		return sr.sink.frames >= 640
	})

	if level := rec.AveragePower(); level >= 0 || level <= SilenceLevel {
		t.Errorf("Expected a level between silence and full scale, got %v", level)
	}

	stats, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stats.Frames != 640 {
		t.Errorf("Expected 640 frames at 16 kHz, got %d", stats.Frames)
	}

	info, samples, err := segment.ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if info.SampleRate != 16000 || len(samples) != 640 {
		t.Errorf("Unexpected WAV: %+v with %d samples", info, len(samples))
	}
	for i, s := range samples {
		if s != 1000 {
			t.Fatalf("Sample %d: expected 1000, got %d", i, s)
		}
	}

	conn.Write(audiosocket.HangupMessage())
	waitFor(t, "peer hangup", func() bool {
		_, ok := dev.Peer()
		return !ok
	})
}

func TestAudioSocketDropsAudioWithoutRecorder(t *testing.T) {
	dev := newTestSocket(t)

	conn, err := net.Dial("tcp", dev.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.Write(idMessage(uuid.New()))
	conn.Write(audiosocket.SlinMessage(slinPayload(160, 500)))

	waitFor(t, "dropped audio", func() bool {
		return dev.Dropped() >= 160
	})

	path := filepath.Join(t.TempDir(), "late.wav")
	rec, err := dev.Open(path, pcmOptions(nil))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	stats, err := rec.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stats.Frames != 0 {
		t.Errorf("Audio sent before Open should be dropped, got %d frames", stats.Frames)
	}
}

func TestAudioSocketBusyAndFormat(t *testing.T) {
	dev := newTestSocket(t)
	dir := t.TempDir()

	rec, err := dev.Open(filepath.Join(dir, "a.wav"), pcmOptions(nil))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := dev.Open(filepath.Join(dir, "b.wav"), pcmOptions(nil)); !errors.Is(err, ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}
	rec.Stop()

	// released after Stop
	rec, err = dev.Open(filepath.Join(dir, "c.wav"), pcmOptions(nil))
	if err != nil {
		t.Fatalf("Open after Stop failed: %v", err)
	}
	rec.Stop()

	stereo := Options{Format: segment.Format{SampleRate: 44100, Channels: 2, Encoding: segment.EncodingPCM}}
	if _, err := dev.Open(filepath.Join(dir, "d.wav"), stereo); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable for unsupported format, got %v", err)
	}
}

func TestAudioSocketClosed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dev, err := NewAudioSocket("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("Failed to create AudioSocket: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := dev.Open(filepath.Join(t.TempDir(), "a.wav"), pcmOptions(nil)); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable after Close, got %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestNewAudioSocketListenFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	if _, err := NewAudioSocket("256.0.0.1:bad", logger); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}
