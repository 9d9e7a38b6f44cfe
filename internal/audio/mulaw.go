package audio

// G.711 μ-law constants.
const (
	muLawBias = 0x84
	muLawClip = 32635
)

// MuLawDecode expands 8-bit μ-law bytes to 16-bit linear samples.
func MuLawDecode(encoded []byte) []int16 {
	out := make([]int16, len(encoded))
	for i, b := range encoded {
		out[i] = muLawDecodeSample(b)
	}
	return out
}

// MuLawEncode compresses 16-bit linear samples to 8-bit μ-law.
func MuLawEncode(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = muLawEncodeSample(s)
	}
	return out
}

func muLawEncodeSample(s int16) byte {
	sample := int(s)
	sign := 0
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	exponent := 7
	for mask := 0x4000; sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

func muLawDecodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := int(u & 0x0F)
	sample := ((mantissa << 3) + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}
