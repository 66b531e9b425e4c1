package upload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/amanullahtanweer/speaker-recognizer/internal/ratio"
	"github.com/shopspring/decimal"
)

// selection is one attributed time range in the analysis response.
// Times are decoded as decimals so "5", 5 and 5.0 are all accepted.
type selection struct {
	Gender    string          `json:"gender"`
	StartTime decimal.Decimal `json:"startTime"`
	EndTime   decimal.Decimal `json:"endTime"`
}

// parseSelections returns the raw entries of the response's selections
// array. Anything other than an object with an array is an error.
func parseSelections(body []byte) ([]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	raw, ok := doc["selections"]
	if !ok {
		return nil, errors.New("response has no selections")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.New("selections is not an array")
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding selections: %w", err)
	}
	return entries, nil
}

// observation converts one entry; invalid entries wrap
// ratio.ErrInvalidDataPoint
func observation(raw json.RawMessage) (ratio.Observation, error) {
	var s selection
	if err := json.Unmarshal(raw, &s); err != nil {
		return ratio.Observation{}, fmt.Errorf("%w: %v", ratio.ErrInvalidDataPoint, err)
	}

	g := ratio.ParseGender(s.Gender)
	if g == ratio.Unknown {
		return ratio.Observation{}, fmt.Errorf("%w: gender %q", ratio.ErrInvalidDataPoint, s.Gender)
	}
	if s.EndTime.LessThan(s.StartTime) {
		return ratio.Observation{}, fmt.Errorf("%w: end %s before start %s",
			ratio.ErrInvalidDataPoint, s.EndTime, s.StartTime)
	}

	seconds, _ := s.EndTime.Sub(s.StartTime).Float64()
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return ratio.Observation{}, fmt.Errorf("%w: duration %s out of range",
			ratio.ErrInvalidDataPoint, s.EndTime.Sub(s.StartTime))
	}
	return ratio.Observation{Gender: g, Seconds: seconds}, nil
}
