package metrics

import (
	"fmt"
	"sync"
	"time"
)

// SessionMetrics counts what the recognizer did during one process run.
// A nil *SessionMetrics is valid and records nothing.
type SessionMetrics struct {
	Driver          string
	StartTime       time.Time
	EndTime         time.Time
	Segments        int
	SkippedSegments int
	UploadsOK       int
	UploadsFailed   int
	UploadAttempts  int
	UploadedBytes   int64
	AudioSeconds    float64
	InvalidEntries  int
	FirstRatioTime  *time.Time
	mu              sync.Mutex
}

func NewSessionMetrics(driver string) *SessionMetrics {
	return &SessionMetrics{
		Driver:    driver,
		StartTime: time.Now(),
	}
}

// AddSegment records a finalized segment of the given length
func (m *SessionMetrics) AddSegment(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Segments++
	m.AudioSeconds += d.Seconds()
}

func (m *SessionMetrics) AddSkipped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedSegments++
}

// AddUpload records the outcome of one segment upload
func (m *SessionMetrics) AddUpload(ok bool, attempts int, bytes int64, invalid int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok {
		m.UploadsOK++
	} else {
		m.UploadsFailed++
	}
	m.UploadAttempts += attempts
	m.UploadedBytes += bytes
	m.InvalidEntries += invalid
}

// AddRatio marks the time the first ratio became available
func (m *SessionMetrics) AddRatio() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FirstRatioTime == nil {
		now := time.Now()
		m.FirstRatioTime = &now
	}
}

func (m *SessionMetrics) Finalize() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EndTime = time.Now()
}

func (m *SessionMetrics) Summary() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	var latency time.Duration
	if m.FirstRatioTime != nil {
		latency = m.FirstRatioTime.Sub(m.StartTime)
	}

	return fmt.Sprintf(
		"Driver: %s\n"+
			"Duration: %v\n"+
			"Audio Duration: %.2f seconds\n"+
			"Segments: %d (skipped %d)\n"+
			"Uploads: %d ok, %d failed, %d attempts\n"+
			"Uploaded Bytes: %d\n"+
			"Invalid Entries: %d\n"+
			"First Ratio Latency: %v\n",
		m.Driver,
		end.Sub(m.StartTime).Round(time.Millisecond),
		m.AudioSeconds,
		m.Segments, m.SkippedSegments,
		m.UploadsOK, m.UploadsFailed, m.UploadAttempts,
		m.UploadedBytes,
		m.InvalidEntries,
		latency,
	)
}
