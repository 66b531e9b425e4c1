package segment

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewSegmentIDs(t *testing.T) {
	started := time.Now()
	a, err := New("a.m4a", DefaultFormat(), started)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New("b.m4a", DefaultFormat(), started)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.ID == b.ID {
		t.Error("Segments should get distinct ids")
	}
	if a.ID.Version() != 7 {
		t.Errorf("Expected time-ordered v7 id, got version %d", a.ID.Version())
	}
	if a.Finalized() {
		t.Error("New segment should not be finalized")
	}
}

func TestRawPath(t *testing.T) {
	testCases := []struct {
		path     string
		encoding Encoding
		expected string
	}{
		{"/tmp/recording_1.m4a", EncodingAAC, "/tmp/recording_1.wav"},
		{"/tmp/recording_1.wav", EncodingPCM, "/tmp/recording_1.wav"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.encoding), func(t *testing.T) {
			seg := Segment{Path: tc.path, Format: Format{Encoding: tc.encoding}}
			if got := seg.RawPath(); got != filepath.FromSlash(tc.expected) {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestDefaultFormat(t *testing.T) {
	f := DefaultFormat()
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("Expected 16 kHz mono, got %d Hz %d ch", f.SampleRate, f.Channels)
	}
	if f.Encoding != EncodingAAC || f.Encoding.Extension() != ".m4a" {
		t.Errorf("Expected AAC in m4a, got %s", f.Encoding)
	}
	if f.Quality != QualityHigh {
		t.Errorf("Expected high quality, got %s", f.Quality)
	}
}

func TestDuration(t *testing.T) {
	seg := Segment{Format: DefaultFormat(), Frames: 48000}
	if got := seg.Duration(); got != 3*time.Second {
		t.Errorf("Expected 3s, got %v", got)
	}
}
