package audio

import (
	"fmt"

	"github.com/hraban/opus"
)

// maxOpusFrameMs bounds a single decoded Opus packet.
const maxOpusFrameMs = 120

type opusDecoder struct {
	dec *opus.Decoder
	buf []int16
}

func newOpusDecoder(sampleRate int) (*opusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &opusDecoder{
		dec: dec,
		buf: make([]int16, sampleRate*maxOpusFrameMs/1000),
	}, nil
}

func (d *opusDecoder) Decode(payload []byte) ([]int16, error) {
	n, err := d.dec.Decode(payload, d.buf)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	out := make([]int16, n)
	copy(out, d.buf[:n])
	return out, nil
}

type opusEncoder struct {
	enc *opus.Encoder
}

func newOpusEncoder(sampleRate int) (*opusEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

func (e *opusEncoder) Encode(samples []int16) ([]byte, error) {
	data := make([]byte, 1275)
	n, err := e.enc.Encode(samples, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return data[:n], nil
}
