package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestMuLawRoundTripWithinQuantization(t *testing.T) {
	for _, in := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32767, -32768} {
		got := MuLawDecode(MuLawEncode([]int16{in}))[0]
		diff := int(in) - int(got)
		if diff < 0 {
			diff = -diff
		}
		limit := abs(int(in))/16 + 8
		if abs(int(in)) > muLawClip {
			limit = abs(int(in)) - 32000
		}
		if diff > limit {
			t.Fatalf("decode(encode(%d)) = %d, diff %d > %d", in, got, diff, limit)
		}
	}
}

func TestMuLawSilenceIsFF(t *testing.T) {
	if got := MuLawEncode([]int16{0})[0]; got != 0xFF {
		t.Fatalf("encode(0) = %#x, want 0xff", got)
	}
	if got := MuLawDecode([]byte{0xFF})[0]; got != 0 {
		t.Fatalf("decode(0xff) = %d, want 0", got)
	}
}

func TestResampleLength(t *testing.T) {
	in := make([]int16, 320)
	if got := len(Resample(in, 16000, 8000)); got != 160 {
		t.Fatalf("len = %d, want 160", got)
	}
	if got := len(Resample(in, 8000, 16000)); got != 640 {
		t.Fatalf("len = %d, want 640", got)
	}
}

func TestResampleKeepsConstantSignal(t *testing.T) {
	in := []int16{500, 500, 500, 500, 500, 500}
	for _, v := range Resample(in, 8000, 24000) {
		if v != 500 {
			t.Fatalf("resampled value = %d, want 500", v)
		}
	}
}

func TestFramerSplitsAndPads(t *testing.T) {
	f := NewFramer(4)
	frames := f.Push([]int16{1, 2, 3, 4, 5, 6})
	if len(frames) != 1 || frames[0][3] != 4 {
		t.Fatalf("frames = %v, want one frame ending in 4", frames)
	}
	frames = f.Push([]int16{7, 8, 9})
	if len(frames) != 1 || frames[0][0] != 5 {
		t.Fatalf("frames = %v, want one frame starting at 5", frames)
	}
	tail := f.Flush()
	if len(tail) != 4 || tail[0] != 9 || tail[1] != 0 {
		t.Fatalf("Flush() = %v, want [9 0 0 0]", tail)
	}
	if f.Flush() != nil {
		t.Fatalf("second Flush() should be nil")
	}
}

func TestRMS(t *testing.T) {
	if got := RMS([]int16{3, -3, 3, -3}); got != 3 {
		t.Fatalf("RMS() = %v, want 3", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
}

func TestTelephonyFrameSize(t *testing.T) {
	if got := TelephonyFormat.SamplesPerFrame(); got != 160 {
		t.Fatalf("SamplesPerFrame() = %d, want 160", got)
	}
	if got := DurationOf(160, 8000); got != 20*time.Millisecond {
		t.Fatalf("DurationOf() = %v, want 20ms", got)
	}
}

func TestParseCodec(t *testing.T) {
	cases := map[string]Codec{"audio/x-mulaw": CodecMuLaw, "PCMU": CodecMuLaw, "audio/l16": CodecPCM16, "opus": CodecOpus}
	for raw, want := range cases {
		got, err := ParseCodec(raw)
		if err != nil {
			t.Fatalf("ParseCodec(%q) error = %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseCodec(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseCodec("gsm"); err == nil {
		t.Fatalf("expected error for unsupported codec")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	wav, err := EncodeWAV([]int16{1, 2, 3}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(wav) != 44+6 {
		t.Fatalf("len = %d, want 50", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected header %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 8000 {
		t.Fatalf("sample rate = %d, want 8000", rate)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
