package ratio

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidDataPoint is returned for negative, non-finite or
// unattributed durations
var ErrInvalidDataPoint = errors.New("invalid data point")

// Gender is the speaker category reported by the analysis service
type Gender int

const (
	Unknown Gender = iota
	Male
	Female
)

// ParseGender maps the service's codes ("M", "F") to a Gender
func ParseGender(code string) Gender {
	switch code {
	case "M":
		return Male
	case "F":
		return Female
	default:
		return Unknown
	}
}

func (g Gender) String() string {
	switch g {
	case Male:
		return "male"
	case Female:
		return "female"
	default:
		return "unknown"
	}
}

// Totals are cumulative speaking durations in seconds
type Totals struct {
	Male   float64 `json:"male_seconds"`
	Female float64 `json:"female_seconds"`
}

// Sum returns the total attributed speaking time
func (t Totals) Sum() float64 {
	return t.Male + t.Female
}

// Ratio is the share of speaking time per gender. Male+Female is 1.
// Revision increases with every update so consumers can discard
// out-of-order deliveries.
type Ratio struct {
	Male     float64 `json:"male"`
	Female   float64 `json:"female"`
	Revision uint64  `json:"revision"`
}

// Observation is one duration attributed to a gender
type Observation struct {
	Gender  Gender
	Seconds float64
}

// Accumulator keeps running totals for the lifetime of the process.
// It is safe for concurrent use.
type Accumulator struct {
	mu       sync.Mutex
	totals   Totals
	revision uint64
}

// NewAccumulator creates an accumulator with no data
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

func validate(o Observation) error {
	if o.Gender != Male && o.Gender != Female {
		return fmt.Errorf("%w: gender %s", ErrInvalidDataPoint, o.Gender)
	}
	if math.IsNaN(o.Seconds) || math.IsInf(o.Seconds, 0) || o.Seconds < 0 {
		return fmt.Errorf("%w: duration %v", ErrInvalidDataPoint, o.Seconds)
	}
	return nil
}

// AddDuration adds seconds of speech for g
func (a *Accumulator) AddDuration(g Gender, seconds float64) error {
	_, _, err := a.Apply([]Observation{{Gender: g, Seconds: seconds}})
	return err
}

// Apply adds a batch of observations as one step and returns the ratio
// computed in the same critical section. If any observation is invalid
// nothing is applied.
func (a *Accumulator) Apply(obs []Observation) (Ratio, bool, error) {
	for _, o := range obs {
		if err := validate(o); err != nil {
			return Ratio{}, false, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.totals
	for _, o := range obs {
		if o.Gender == Male {
			next.Male += o.Seconds
		} else {
			next.Female += o.Seconds
		}
	}
	if math.IsInf(next.Sum(), 0) {
		return Ratio{}, false, fmt.Errorf("%w: totals overflow", ErrInvalidDataPoint)
	}

	a.totals = next
	a.revision++
	r, ok := a.ratioLocked()
	return r, ok, nil
}

// Ratio returns the current ratio; ok is false until speech has been
// attributed to either gender
func (a *Accumulator) Ratio() (Ratio, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ratioLocked()
}

func (a *Accumulator) ratioLocked() (Ratio, bool) {
	total := a.totals.Sum()
	if total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		return Ratio{Revision: a.revision}, false
	}
	male := a.totals.Male / total
	return Ratio{
		Male:     male,
		Female:   1 - male,
		Revision: a.revision,
	}, true
}

// Totals returns the running totals
func (a *Accumulator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

// Restore replaces the totals, e.g. with values persisted by a mirror
func (a *Accumulator) Restore(t Totals) error {
	for _, o := range []Observation{{Male, t.Male}, {Female, t.Female}} {
		if err := validate(o); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals = t
	a.revision++
	return nil
}

// Reset clears the totals
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals = Totals{}
	a.revision++
}
