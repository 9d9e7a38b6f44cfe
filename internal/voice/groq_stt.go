package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/phoneagent/internal/audio"
)

// whisperSampleRate is the rate Whisper models are trained on.
const whisperSampleRate = 16000

type GroqSTTConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	HTTPClient *http.Client
}

// GroqTranscriber uploads utterances to Groq's OpenAI-compatible Whisper endpoint.
type GroqTranscriber struct {
	cfg    GroqSTTConfig
	client *http.Client
}

func NewGroqTranscriber(cfg GroqSTTConfig) *GroqTranscriber {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GroqTranscriber{cfg: cfg, client: client}
}

func (g *GroqTranscriber) Name() string { return "groq_whisper" }

type whisperResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

func (g *GroqTranscriber) Transcribe(ctx context.Context, u Utterance) (Transcript, error) {
	pcm := audio.Resample(u.PCM, u.SampleRate, whisperSampleRate)
	wav, err := audio.EncodeWAV(pcm, whisperSampleRate)
	if err != nil {
		return Transcript{}, fmt.Errorf("encode wav: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return Transcript{}, err
	}
	if _, err := fw.Write(wav); err != nil {
		return Transcript{}, err
	}
	for k, v := range map[string]string{
		"model":           g.cfg.Model,
		"language":        g.cfg.Language,
		"response_format": "verbose_json",
		"temperature":     "0",
	} {
		if err := mw.WriteField(k, v); err != nil {
			return Transcript{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	res, err := g.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Transcript{}, &StatusError{Provider: g.Name(), Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out whisperResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Transcript{}, fmt.Errorf("decode response: %w", err)
	}
	return Transcript{Text: strings.TrimSpace(out.Text), Confidence: whisperConfidence(out), Provider: g.Name()}, nil
}

// whisperConfidence maps the mean segment log probability to 0..1, discounted by the
// probability that a segment holds no speech at all.
func whisperConfidence(r whisperResponse) float64 {
	if len(r.Segments) == 0 {
		if strings.TrimSpace(r.Text) == "" {
			return 0
		}
		return 1
	}
	var logp, noSpeech float64
	for _, s := range r.Segments {
		logp += s.AvgLogprob
		noSpeech += s.NoSpeechProb
	}
	n := float64(len(r.Segments))
	conf := math.Exp(logp/n) * (1 - noSpeech/n)
	return math.Max(0, math.Min(1, conf))
}
