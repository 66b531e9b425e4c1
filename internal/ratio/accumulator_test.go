package ratio

import (
	"errors"
	"math"
	"sync"
	"testing"
)

func TestAccumulatorUndefinedBeforeData(t *testing.T) {
	acc := NewAccumulator()
	r, ok := acc.Ratio()
	if ok {
		t.Fatalf("expected no ratio, got %+v", r)
	}
	if math.IsNaN(r.Male) || math.IsNaN(r.Female) {
		t.Fatalf("ratio contains NaN: %+v", r)
	}
}

func TestAccumulatorRatio(t *testing.T) {
	tests := []struct {
		name       string
		obs        []Observation
		wantMale   float64
		wantFemale float64
	}{
		{"male only", []Observation{{Male, 5}}, 1, 0},
		{"female only", []Observation{{Female, 5}}, 0, 1},
		{"quarter", []Observation{{Male, 10}, {Female, 30}}, 0.25, 0.75},
		{"even", []Observation{{Male, 2.5}, {Female, 1}, {Female, 1.5}}, 0.5, 0.5},
		{"zero durations ignored", []Observation{{Male, 0}, {Female, 4}}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			r, ok, err := acc.Apply(tt.obs)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !ok {
				t.Fatal("expected ratio to be defined")
			}
			if math.Abs(r.Male-tt.wantMale) > 1e-12 || math.Abs(r.Female-tt.wantFemale) > 1e-12 {
				t.Errorf("got %v/%v, want %v/%v", r.Male, r.Female, tt.wantMale, tt.wantFemale)
			}
			if r.Male+r.Female != 1 {
				t.Errorf("ratio does not sum to 1: %v", r.Male+r.Female)
			}
		})
	}
}

func TestAccumulatorFemaleTotalsIndependentOfMale(t *testing.T) {
	acc := NewAccumulator()
	if err := acc.AddDuration(Male, 7); err != nil {
		t.Fatal(err)
	}
	if err := acc.AddDuration(Female, 3); err != nil {
		t.Fatal(err)
	}
	got := acc.Totals()
	if got.Male != 7 || got.Female != 3 {
		t.Fatalf("totals = %+v, want male 7 female 3", got)
	}
}

func TestAccumulatorRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
	}{
		{"negative", Observation{Male, -1}},
		{"nan", Observation{Female, math.NaN()}},
		{"inf", Observation{Male, math.Inf(1)}},
		{"unknown gender", Observation{Unknown, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator()
			_ = acc.AddDuration(Male, 1)
			before := acc.Totals()

			_, _, err := acc.Apply([]Observation{{Female, 2}, tt.obs})
			if !errors.Is(err, ErrInvalidDataPoint) {
				t.Fatalf("err = %v, want ErrInvalidDataPoint", err)
			}
			if acc.Totals() != before {
				t.Errorf("invalid batch changed totals: %+v", acc.Totals())
			}
		})
	}
}

func TestAccumulatorOverflowRejected(t *testing.T) {
	acc := NewAccumulator()
	if err := acc.AddDuration(Male, math.MaxFloat64); err != nil {
		t.Fatal(err)
	}
	if err := acc.AddDuration(Female, math.MaxFloat64); !errors.Is(err, ErrInvalidDataPoint) {
		t.Fatalf("err = %v, want ErrInvalidDataPoint", err)
	}
	r, ok := acc.Ratio()
	if !ok || r.Male != 1 {
		t.Fatalf("ratio = %+v ok=%v", r, ok)
	}
}

func TestAccumulatorRevision(t *testing.T) {
	acc := NewAccumulator()
	r1, _, _ := acc.Apply([]Observation{{Male, 1}})
	r2, _, _ := acc.Apply(nil)
	if r2.Revision <= r1.Revision {
		t.Fatalf("revision did not advance: %d -> %d", r1.Revision, r2.Revision)
	}
}

func TestAccumulatorResetRestore(t *testing.T) {
	acc := NewAccumulator()
	_ = acc.AddDuration(Female, 4)
	acc.Reset()
	if _, ok := acc.Ratio(); ok {
		t.Fatal("ratio defined after reset")
	}

	if err := acc.Restore(Totals{Male: 3, Female: 1}); err != nil {
		t.Fatal(err)
	}
	r, ok := acc.Ratio()
	if !ok || r.Male != 0.75 {
		t.Fatalf("ratio after restore = %+v ok=%v", r, ok)
	}

	if err := acc.Restore(Totals{Male: -1}); !errors.Is(err, ErrInvalidDataPoint) {
		t.Fatalf("err = %v, want ErrInvalidDataPoint", err)
	}
}

func TestAccumulatorConcurrentApply(t *testing.T) {
	acc := NewAccumulator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, ok, err := acc.Apply([]Observation{{Male, 1}, {Female, 1}})
			if err != nil || !ok || math.IsNaN(r.Male) {
				t.Errorf("Apply = %+v %v %v", r, ok, err)
			}
		}()
	}
	wg.Wait()

	got := acc.Totals()
	if got.Male != 50 || got.Female != 50 {
		t.Fatalf("totals = %+v", got)
	}
}

func TestParseGender(t *testing.T) {
	for code, want := range map[string]Gender{"M": Male, "F": Female, "": Unknown, "m": Unknown, "X": Unknown} {
		if got := ParseGender(code); got != want {
			t.Errorf("ParseGender(%q) = %v, want %v", code, got, want)
		}
	}
}
