package voice

import (
	"math"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
)

// frameSource builds consecutive μ-law telephony frames.
type frameSource struct {
	callID string
	seq    uint64
	phase  int
}

func (s *frameSource) frame(amplitude float64) audio.Frame {
	n := audio.TelephonyFormat.SamplesPerFrame()
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(amplitude * math.Sin(2*math.Pi*300*float64(s.phase+i)/8000))
	}
	s.phase += n
	s.seq++
	return audio.Frame{
		CallID:    s.callID,
		Seq:       s.seq,
		Timestamp: time.Duration(s.seq-1) * audio.FrameDuration,
		Codec:     audio.CodecMuLaw,
		Payload:   audio.MuLawEncode(pcm),
	}
}

func (s *frameSource) voiced() audio.Frame { return s.frame(3000) }
func (s *frameSource) silent() audio.Frame { return s.frame(0) }
