package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/observability"
)

const (
	defaultFirstFrameTimeout = 800 * time.Millisecond
	defaultStallTimeout      = 2 * time.Second
)

// StreamerConfig tunes the synthesis streamer.
type StreamerConfig struct {
	// FirstFrameTimeout bounds the wait from Speak to the first encoded frame.
	FirstFrameTimeout time.Duration
	// StallTimeout bounds the wait between later chunks.
	StallTimeout time.Duration
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// Streamer turns response text into outbound frames in the call codec.
type Streamer struct {
	synth   Synthesizer
	phrases *PhraseCache
	// fallback is spoken when synthesis fails.
	fallback string
	cfg      StreamerConfig
	logger   *slog.Logger
}

func NewStreamer(synth Synthesizer, phrases *PhraseCache, fallbackText string, cfg StreamerConfig) *Streamer {
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = defaultFirstFrameTimeout
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}
	if phrases == nil {
		phrases = NewPhraseCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{synth: synth, phrases: phrases, fallback: fallbackText, cfg: cfg, logger: logger}
}

// Speak starts a lazy frame sequence for text. Nothing is synthesized until the first Next.
func (s *Streamer) Speak(callID, text string, format audio.Format) (*FrameStream, error) {
	enc, err := audio.NewEncoder(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	return &FrameStream{
		s:      s,
		callID: callID,
		text:   sanitizeSpeechText(text),
		format: format,
		enc:    enc,
		framer: audio.NewFramer(format.SamplesPerFrame()),
	}, nil
}

// FrameStream yields encoded frames in generation order. Next returns io.EOF at the end and
// never yields a frame once its context is cancelled.
type FrameStream struct {
	s      *Streamer
	callID string
	text   string
	format audio.Format
	enc    audio.Encoder
	framer *audio.Framer

	started    bool
	startedAt  time.Time
	firstFrame bool
	stream     AudioStream
	pending    []audio.Frame
	seq        uint64
	done       bool
	fellBack   bool
	err        error
}

// Err returns the synthesis failure that triggered fallback audio, if any.
func (fs *FrameStream) Err() error { return fs.err }

// FellBack reports whether the stream switched to fallback audio.
func (fs *FrameStream) FellBack() bool { return fs.fellBack }

func (fs *FrameStream) Next(ctx context.Context) (audio.Frame, error) {
	if !fs.started {
		fs.started = true
		fs.startedAt = time.Now()
		if pcm, rate, ok := fs.s.phrases.Get(fs.text); ok {
			fs.queuePCM(pcm, rate, true)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			fs.Close()
			return audio.Frame{}, err
		}
		if len(fs.pending) > 0 {
			f := fs.pending[0]
			fs.pending = fs.pending[1:]
			if !fs.firstFrame {
				fs.firstFrame = true
				fs.s.cfg.Metrics.ObserveStage(observability.StageSynthesisFirstFrame, time.Since(fs.startedAt))
			}
			return f, nil
		}
		if fs.done {
			return audio.Frame{}, io.EOF
		}
		if fs.text == "" {
			fs.done = true
			continue
		}
		if err := fs.pull(ctx); err != nil {
			if ctx.Err() != nil {
				fs.Close()
				return audio.Frame{}, ctx.Err()
			}
			fs.fallBack(err)
		}
	}
}

// pull reads one chunk from the synthesizer, opening the stream on first use.
func (fs *FrameStream) pull(ctx context.Context) error {
	timeout := fs.s.cfg.StallTimeout
	if !fs.firstFrame {
		timeout = fs.s.cfg.FirstFrameTimeout - time.Since(fs.startedAt)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	chunkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if fs.stream == nil {
		if fs.s.synth == nil {
			return errors.New("no synthesizer configured")
		}
		stream, err := fs.s.synth.Synthesize(chunkCtx, fs.text)
		if err != nil {
			return err
		}
		fs.stream = stream
	}

	chunk, err := fs.stream.Next(chunkCtx)
	if errors.Is(err, io.EOF) {
		fs.flush()
		fs.done = true
		fs.Close()
		return nil
	}
	if err != nil {
		return err
	}
	fs.queuePCM(chunk.PCM, chunk.SampleRate, false)
	return nil
}

func (fs *FrameStream) fallBack(cause error) {
	fs.Close()
	fs.err = fmt.Errorf("%w: %w", ErrSynthesisFailed, cause)
	fs.s.cfg.Metrics.StageFailed(observability.StageSynthesisFirstFrame, observability.FailureReason(cause))
	fs.s.logger.Warn("synthesis failed; playing fallback audio",
		"call_id", fs.callID,
		"synthesizer", synthName(fs.s.synth),
		"frames_sent", fs.seq,
		"error", cause,
	)
	fs.fellBack = true
	fs.framer = audio.NewFramer(fs.format.SamplesPerFrame())
	pcm, rate := fs.s.phrases.Fallback(fs.s.fallback)
	fs.queuePCM(pcm, rate, true)
}

// queuePCM resamples, frames and encodes pcm. With final set the stream ends after it.
func (fs *FrameStream) queuePCM(pcm []int16, rate int, final bool) {
	if rate <= 0 {
		rate = fs.format.SampleRate
	}
	for _, samples := range fs.framer.Push(audio.Resample(pcm, rate, fs.format.SampleRate)) {
		fs.emit(samples)
	}
	if final {
		fs.flush()
		fs.done = true
	}
}

func (fs *FrameStream) flush() {
	if samples := fs.framer.Flush(); samples != nil {
		fs.emit(samples)
	}
}

func (fs *FrameStream) emit(samples []int16) {
	payload, err := fs.enc.Encode(samples)
	if err != nil {
		fs.s.logger.Warn("encode outbound frame", "call_id", fs.callID, "error", err)
		return
	}
	fs.seq++
	fs.pending = append(fs.pending, audio.Frame{
		CallID:    fs.callID,
		Seq:       fs.seq,
		Timestamp: time.Duration(fs.seq-1) * audio.FrameDuration,
		Codec:     fs.format.Codec,
		Payload:   payload,
	})
}

// Close releases the synthesizer stream.
func (fs *FrameStream) Close() {
	if fs.stream != nil {
		_ = fs.stream.Close()
		fs.stream = nil
	}
}

func synthName(s Synthesizer) string {
	if s == nil {
		return "none"
	}
	return s.Name()
}
