package audio

import "fmt"

// Decoder turns frame payloads into 16-bit mono samples at the format's sample rate.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// Encoder turns 16-bit mono samples into frame payloads.
type Encoder interface {
	Encode(samples []int16) ([]byte, error)
}

type pcm16Codec struct{}

func (pcm16Codec) Decode(payload []byte) ([]int16, error) { return PCM16FromBytes(payload), nil }
func (pcm16Codec) Encode(samples []int16) ([]byte, error) { return PCM16ToBytes(samples), nil }

type muLawCodec struct{}

func (muLawCodec) Decode(payload []byte) ([]int16, error) { return MuLawDecode(payload), nil }
func (muLawCodec) Encode(samples []int16) ([]byte, error) { return MuLawEncode(samples), nil }

// NewDecoder returns a stateful decoder for f. Opus decoders must not be shared between calls.
func NewDecoder(f Format) (Decoder, error) {
	switch f.Codec {
	case CodecPCM16:
		return pcm16Codec{}, nil
	case CodecMuLaw:
		return muLawCodec{}, nil
	case CodecOpus:
		return newOpusDecoder(f.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported codec %q", f.Codec)
	}
}

// NewEncoder returns a stateful encoder for f.
func NewEncoder(f Format) (Encoder, error) {
	switch f.Codec {
	case CodecPCM16:
		return pcm16Codec{}, nil
	case CodecMuLaw:
		return muLawCodec{}, nil
	case CodecOpus:
		return newOpusEncoder(f.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported codec %q", f.Codec)
	}
}
