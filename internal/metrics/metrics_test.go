package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestSessionMetricsCounts(t *testing.T) {
	m := NewSessionMetrics("portaudio")
	m.AddSegment(30 * time.Second)
	m.AddSegment(1500 * time.Millisecond)
	m.AddSkipped()
	m.AddUpload(true, 1, 1000, 0)
	m.AddUpload(false, 3, 0, 0)
	m.AddUpload(true, 2, 500, 2)
	m.AddRatio()
	first := *m.FirstRatioTime
	m.AddRatio()
	m.Finalize()

	if m.Segments != 2 || m.SkippedSegments != 1 {
		t.Errorf("segments = %d skipped = %d", m.Segments, m.SkippedSegments)
	}
	if m.UploadsOK != 2 || m.UploadsFailed != 1 || m.UploadAttempts != 6 {
		t.Errorf("uploads = %d/%d/%d", m.UploadsOK, m.UploadsFailed, m.UploadAttempts)
	}
	if m.UploadedBytes != 1500 || m.InvalidEntries != 2 {
		t.Errorf("bytes = %d invalid = %d", m.UploadedBytes, m.InvalidEntries)
	}
	if m.AudioSeconds != 31.5 {
		t.Errorf("audio seconds = %v", m.AudioSeconds)
	}
	if !m.FirstRatioTime.Equal(first) {
		t.Error("first ratio time moved")
	}

	summary := m.Summary()
	for _, want := range []string{"Driver: portaudio", "Segments: 2 (skipped 1)", "Uploads: 2 ok, 1 failed, 6 attempts"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestSessionMetricsNil(t *testing.T) {
	var m *SessionMetrics
	m.AddSegment(time.Second)
	m.AddUpload(true, 1, 1, 0)
	m.AddRatio()
	m.Finalize()
	if m.Summary() != "" {
		t.Error("nil metrics produced a summary")
	}
}
