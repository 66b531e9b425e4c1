package capture

import "encoding/binary"

// decodeSlin converts little-endian signed linear bytes to samples
func decodeSlin(payload []byte) []int16 {
	samples := make([]int16, len(payload)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2 : i*2+2]))
	}
	return samples
}

// upsample8to16 doubles the sample rate with linear interpolation
func upsample8to16(samples []int16) []int16 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]int16, len(samples)*2)
	for i := 0; i < len(samples)-1; i++ {
		out[i*2] = samples[i]
		out[i*2+1] = int16((int32(samples[i]) + int32(samples[i+1])) / 2)
	}
	last := samples[len(samples)-1]
	out[len(out)-2] = last
	out[len(out)-1] = last
	return out
}
