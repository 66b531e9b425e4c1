package capture

import (
	"math"
	"sync"
)

// Meter tracks the average power of PCM samples between reads
type Meter struct {
	mu    sync.Mutex
	sumSq float64
	count int64
	last  float64
}

// NewMeter creates a meter reporting silence until samples arrive
func NewMeter() *Meter {
	return &Meter{last: SilenceLevel}
}

// Add accumulates samples
func (m *Meter) Add(samples []int16) {
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}

	m.mu.Lock()
	m.sumSq += sum
	m.count += int64(len(samples))
	m.mu.Unlock()
}

// AveragePower returns the RMS power in dBFS since the last read. With no
// new samples it repeats the previous value.
func (m *Meter) AveragePower() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return m.last
	}
	m.last = powerDB(m.sumSq / float64(m.count))
	m.sumSq = 0
	m.count = 0
	return m.last
}

func powerDB(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return SilenceLevel
	}
	db := 10 * math.Log10(meanSquare)
	if db < SilenceLevel {
		return SilenceLevel
	}
	if db > 0 {
		return 0
	}
	return db
}
