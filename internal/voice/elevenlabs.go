package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/phoneagent/internal/audio"
)

// elevenSampleRate matches the pcm_16000 output format requested below.
const elevenSampleRate = 16000

type ElevenLabsConfig struct {
	APIKey          string
	WSBaseURL       string
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

// ElevenLabsSynthesizer streams speech over the ElevenLabs stream-input websocket.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	cfg.Stability = clampFloat(orDefault(cfg.Stability, 0.5), 0, 1)
	cfg.SimilarityBoost = clampFloat(orDefault(cfg.SimilarityBoost, 0.8), 0, 1)
	cfg.Speed = clampFloat(orDefault(cfg.Speed, 1.0), 0.7, 1.2)
	return &ElevenLabsSynthesizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *ElevenLabsSynthesizer) Name() string { return "elevenlabs" }

// Synthesize dials within ctx and sends the whole text; audio is read lazily through Next.
func (p *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (AudioStream, error) {
	if strings.TrimSpace(p.cfg.VoiceID) == "" {
		return nil, fmt.Errorf("%w: voice_id is required", ErrSynthesisFailed)
	}
	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(p.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.ModelID)
	q.Set("output_format", "pcm_16000")
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("%w: dial tts websocket: %w", ErrSynthesisFailed, err)
	}

	s := &elevenStream{conn: conn, events: make(chan elevenEvent, 64), done: make(chan struct{})}
	go s.readLoop()

	messages := []map[string]any{{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        p.cfg.Stability,
			"similarity_boost": p.cfg.SimilarityBoost,
			"speed":            p.cfg.Speed,
		},
	}}
	for _, segment := range splitSpeechSegments(text) {
		messages = append(messages, map[string]any{"text": segment + " ", "try_trigger_generation": true})
	}
	messages = append(messages, map[string]any{"text": ""})
	for _, m := range messages {
		if err := s.writeJSON(m); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: send text: %w", ErrSynthesisFailed, err)
		}
	}
	return s, nil
}

type elevenEvent struct {
	pcm []int16
	err error
	eof bool
}

type elevenStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan elevenEvent
	done      chan struct{}
}

func (s *elevenStream) Next(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case ev, ok := <-s.events:
		switch {
		case !ok || ev.eof:
			return AudioChunk{}, io.EOF
		case ev.err != nil:
			return AudioChunk{}, ev.err
		default:
			return AudioChunk{PCM: ev.pcm, SampleRate: elevenSampleRate}, nil
		}
	}
}

func (s *elevenStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *elevenStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !s.closed() {
				s.send(elevenEvent{err: fmt.Errorf("%w: read: %w", ErrSynthesisFailed, err)})
			}
			return
		}
		var msg struct {
			Audio   string `json:"audio"`
			IsFinal bool   `json:"isFinal"`
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			s.send(elevenEvent{err: fmt.Errorf("%w: %s: %s", ErrSynthesisFailed, msg.Error, msg.Message)})
			return
		}
		if msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				s.send(elevenEvent{err: fmt.Errorf("%w: decode audio: %w", ErrSynthesisFailed, err)})
				return
			}
			if !s.send(elevenEvent{pcm: audio.PCM16FromBytes(raw)}) {
				return
			}
		}
		if msg.IsFinal {
			s.send(elevenEvent{eof: true})
			return
		}
	}
}

// send delivers ev unless the stream was closed by the reader.
func (s *elevenStream) send(ev elevenEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *elevenStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
