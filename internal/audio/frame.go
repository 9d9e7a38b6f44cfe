package audio

import (
	"fmt"
	"strings"
	"time"
)

// FrameDuration is the fixed duration of every inbound and outbound frame.
const FrameDuration = 20 * time.Millisecond

type Codec string

const (
	CodecPCM16 Codec = "pcm16"
	CodecMuLaw Codec = "mulaw"
	CodecOpus  Codec = "opus"
)

// ParseCodec accepts the codec names used by telephony transports and MIME-style aliases.
func ParseCodec(raw string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pcm16", "pcm", "l16", "audio/l16", "linear16", "pcm_s16le":
		return CodecPCM16, nil
	case "mulaw", "ulaw", "pcmu", "audio/x-mulaw", "audio/pcmu", "g711_ulaw":
		return CodecMuLaw, nil
	case "opus", "audio/opus":
		return CodecOpus, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", raw)
	}
}

// Format describes how frame payloads of one call are encoded.
type Format struct {
	Codec      Codec
	SampleRate int
}

// TelephonyFormat is 8kHz G.711 μ-law, the format of PSTN media streams.
var TelephonyFormat = Format{Codec: CodecMuLaw, SampleRate: 8000}

// SamplesPerFrame returns the number of mono samples in one FrameDuration frame.
func (f Format) SamplesPerFrame() int {
	return SamplesFor(FrameDuration, f.SampleRate)
}

// Frame is one fixed-duration chunk of call audio.
type Frame struct {
	CallID string
	Seq    uint64
	// Timestamp is the media time of the frame, measured from the start of the stream.
	Timestamp time.Duration
	Codec     Codec
	Payload   []byte
}

// SamplesFor converts a duration into a sample count at sampleRate.
func SamplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// DurationOf converts a sample count at sampleRate into a duration.
func DurationOf(samples, sampleRate int) time.Duration {
	if samples <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}
