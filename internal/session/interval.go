package session

import "time"

// Interval is a restartable ticker. Its channel is nil while stopped so
// it can sit in a select unconditionally. Not safe for concurrent use.
type Interval struct {
	period time.Duration
	ticker *time.Ticker
}

func NewInterval(period time.Duration) *Interval {
	return &Interval{period: period}
}

// Start starts the interval, restarting it if already active
func (iv *Interval) Start() {
	if iv.ticker != nil {
		iv.Stop()
	}
	iv.ticker = time.NewTicker(iv.period)
}

func (iv *Interval) Stop() {
	if iv.ticker != nil {
		iv.ticker.Stop()
		iv.ticker = nil
	}
}

func (iv *Interval) IsActive() bool {
	return iv.ticker != nil
}

// C returns the tick channel, or nil when stopped
func (iv *Interval) C() <-chan time.Time {
	if iv.ticker == nil {
		return nil
	}
	return iv.ticker.C
}
