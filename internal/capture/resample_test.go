package capture

import "testing"

func TestUpsample8to16(t *testing.T) {
	in := []int16{0, 100, 200}
	out := upsample8to16(in)
	expected := []int16{0, 50, 100, 150, 200, 200}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(out))
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestUpsampleDoesNotOverflow(t *testing.T) {
	out := upsample8to16([]int16{32767, 32767})
	if out[1] != 32767 {
		t.Errorf("Interpolating two max samples should stay at max, got %d", out[1])
	}
	if upsample8to16(nil) != nil {
		t.Error("Empty input should produce nil")
	}
}

func TestDecodeSlin(t *testing.T) {
	samples := decodeSlin([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f})
	expected := []int16{1, -1, -32768}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], samples[i])
		}
	}
}
