package voice

import (
	"context"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// MockTranscriber returns scripted transcripts in turn, cycling. It is the local fallback when
// no speech-to-text backend is configured.
type MockTranscriber struct {
	mu     sync.Mutex
	script []string
	next   int

	Delay      time.Duration
	Confidence float64
}

func NewMockTranscriber(script ...string) *MockTranscriber {
	if len(script) == 0 {
		script = []string{"I'm looking for a three bedroom house in Dallas under 400k."}
	}
	return &MockTranscriber{script: script, Confidence: 0.9}
}

func (m *MockTranscriber) Name() string { return "mock_stt" }

func (m *MockTranscriber) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Transcript{}, ctx.Err()
		}
	}
	if len(u.PCM) == 0 {
		return Transcript{Provider: m.Name()}, nil
	}
	m.mu.Lock()
	text := m.script[m.next%len(m.script)]
	m.next++
	m.mu.Unlock()
	return Transcript{Text: text, Confidence: m.Confidence, Provider: m.Name()}, nil
}

// MockSynthesizer renders text as a soft tone whose length follows the word count.
type MockSynthesizer struct {
	SampleRate int
	// PerWord is the audio produced per word.
	PerWord time.Duration
	// ChunkDelay simulates generation time before each chunk.
	ChunkDelay time.Duration
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{SampleRate: 16000, PerWord: 250 * time.Millisecond}
}

func (m *MockSynthesizer) Name() string { return "mock_tts" }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	words := len(strings.Fields(text))
	total := int(time.Duration(words) * m.PerWord * time.Duration(rate) / time.Second)
	return &toneStream{rate: rate, remaining: total, chunk: rate / 10, delay: m.ChunkDelay}, nil
}

type toneStream struct {
	rate      int
	remaining int
	chunk     int
	pos       int
	delay     time.Duration
}

func (s *toneStream) Next(ctx context.Context) (AudioChunk, error) {
	if s.remaining <= 0 {
		return AudioChunk{}, io.EOF
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return AudioChunk{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return AudioChunk{}, err
	}
	n := min(s.chunk, s.remaining)
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(1500 * math.Sin(2*math.Pi*220*float64(s.pos+i)/float64(s.rate)))
	}
	s.pos += n
	s.remaining -= n
	return AudioChunk{PCM: pcm, SampleRate: s.rate}, nil
}

func (s *toneStream) Close() error { return nil }
