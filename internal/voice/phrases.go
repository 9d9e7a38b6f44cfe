package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PhraseCache holds pre-rendered audio for scripted lines so they play without a synthesis
// round trip.
type PhraseCache struct {
	mu      sync.RWMutex
	phrases map[string]renderedPhrase
}

type renderedPhrase struct {
	pcm  []int16
	rate int
}

func NewPhraseCache() *PhraseCache {
	return &PhraseCache{phrases: make(map[string]renderedPhrase)}
}

func phraseKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(sanitizeSpeechText(text)), " "))
}

func (c *PhraseCache) Put(text string, pcm []int16, sampleRate int) {
	if c == nil || len(pcm) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phrases[phraseKey(text)] = renderedPhrase{pcm: pcm, rate: sampleRate}
}

func (c *PhraseCache) Get(text string) ([]int16, int, bool) {
	if c == nil {
		return nil, 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.phrases[phraseKey(text)]
	return p.pcm, p.rate, ok
}

func (c *PhraseCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.phrases)
}

// Fallback returns the rendered audio for text, or the comfort tone when it was never rendered.
func (c *PhraseCache) Fallback(text string) ([]int16, int) {
	if pcm, rate, ok := c.Get(text); ok {
		return pcm, rate
	}
	return ComfortTone()
}

const comfortToneRate = 8000

// ComfortTone is a short soft two-note chime used when no speech can be produced at all.
func ComfortTone() ([]int16, int) {
	notes := []struct {
		freq float64
		dur  time.Duration
	}{
		{freq: 523.25, dur: 180 * time.Millisecond},
		{freq: 659.25, dur: 220 * time.Millisecond},
	}
	var out []int16
	for _, n := range notes {
		samples := int(int64(n.dur) * comfortToneRate / int64(time.Second))
		for i := 0; i < samples; i++ {
			// Linear fade in and out avoids clicks.
			env := math.Min(1, math.Min(float64(i), float64(samples-i))/80)
			v := 2500 * env * math.Sin(2*math.Pi*n.freq*float64(i)/comfortToneRate)
			out = append(out, int16(v))
		}
	}
	return out, comfortToneRate
}

// ReadAll drains stream into one PCM buffer.
func ReadAll(ctx context.Context, stream AudioStream) ([]int16, int, error) {
	defer stream.Close()
	var (
		pcm  []int16
		rate int
	)
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return pcm, rate, nil
		}
		if err != nil {
			return nil, 0, err
		}
		if rate == 0 {
			rate = chunk.SampleRate
		}
		pcm = append(pcm, chunk.PCM...)
	}
}

// Prerender synthesizes texts concurrently into a PhraseCache. Phrases that fail to render are
// logged and left out; the cache then falls back to the comfort tone for them.
func Prerender(ctx context.Context, synth Synthesizer, texts []string, timeout time.Duration, logger *slog.Logger) *PhraseCache {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cache := NewPhraseCache()
	if synth == nil {
		return cache
	}

	var g errgroup.Group
	g.SetLimit(4)
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		g.Go(func() error {
			renderCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			stream, err := synth.Synthesize(renderCtx, sanitizeSpeechText(text))
			if err != nil {
				logger.Warn("pre-render phrase failed", "text", text, "error", err)
				return nil
			}
			pcm, rate, err := ReadAll(renderCtx, stream)
			if err != nil || len(pcm) == 0 {
				logger.Warn("pre-render phrase failed", "text", text, "error", err)
				return nil
			}
			cache.Put(text, pcm, rate)
			return nil
		})
	}
	_ = g.Wait()
	logger.Info("pre-rendered phrases", "synthesizer", synth.Name(), "rendered", cache.Len(), "requested", len(texts))
	return cache
}
