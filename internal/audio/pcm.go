package audio

import (
	"encoding/binary"
	"math"
)

// PCM16FromBytes decodes little-endian 16-bit samples. A trailing odd byte is ignored.
func PCM16FromBytes(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return out
}

// PCM16ToBytes encodes samples as little-endian 16-bit PCM.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// RMS returns the root-mean-square energy of samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(in []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	n := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	step := float64(fromRate) / float64(toRate)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(in[idx])*(1-frac) + float64(in[idx+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}

// Framer slices a continuous sample stream into fixed-size frames.
type Framer struct {
	size    int
	pending []int16
}

func NewFramer(samplesPerFrame int) *Framer {
	if samplesPerFrame <= 0 {
		samplesPerFrame = 160
	}
	return &Framer{size: samplesPerFrame}
}

// Push appends samples and returns every complete frame now available.
func (f *Framer) Push(samples []int16) [][]int16 {
	f.pending = append(f.pending, samples...)
	var frames [][]int16
	for len(f.pending) >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.pending[:f.size])
		frames = append(frames, frame)
		f.pending = f.pending[f.size:]
	}
	return frames
}

// Flush returns the remaining samples padded with silence to a full frame, or nil.
func (f *Framer) Flush() []int16 {
	if len(f.pending) == 0 {
		return nil
	}
	frame := make([]int16, f.size)
	copy(frame, f.pending)
	f.pending = nil
	return frame
}
