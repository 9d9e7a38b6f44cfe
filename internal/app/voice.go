package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/phoneagent/internal/config"
	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/voice"
)

type speechSetup struct {
	transcriber voice.Transcriber
	synth       voice.Synthesizer
	detail      string
}

func resolveSpeech(cfg config.Config, metrics *observability.Metrics, logger *slog.Logger) (speechSetup, error) {
	sttMode := strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	if sttMode == "" {
		sttMode = "auto"
	}
	ttsMode := strings.ToLower(strings.TrimSpace(cfg.TTSProvider))
	if ttsMode == "" {
		ttsMode = "auto"
	}

	tryGroq := func() (voice.Transcriber, bool) {
		if strings.TrimSpace(cfg.GroqAPIKey) == "" {
			return nil, false
		}
		return voice.NewGroqTranscriber(voice.GroqSTTConfig{
			APIKey: cfg.GroqAPIKey,
			Model:  cfg.GroqSTTModel,
		}), true
	}
	tryElevenLabs := func() (voice.Synthesizer, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" || strings.TrimSpace(cfg.ElevenLabsVoiceID) == "" {
			return nil, false
		}
		return voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:    cfg.ElevenLabsAPIKey,
			WSBaseURL: cfg.ElevenLabsWSBaseURL,
			VoiceID:   cfg.ElevenLabsVoiceID,
			ModelID:   cfg.ElevenLabsModelID,
		}), true
	}

	var (
		backends []voice.Transcriber
		sttName  string
	)
	switch sttMode {
	case "groq":
		t, ok := tryGroq()
		if !ok {
			return speechSetup{}, fmt.Errorf("APP_STT_PROVIDER=groq but GROQ_API_KEY is not set")
		}
		backends, sttName = []voice.Transcriber{t}, "groq"
	case "mock":
		backends, sttName = []voice.Transcriber{voice.NewMockTranscriber()}, "mock"
	case "auto":
		if t, ok := tryGroq(); ok {
			backends, sttName = []voice.Transcriber{t}, "groq"
		} else {
			logger.Warn("no speech-to-text key configured; using mock transcripts")
			backends, sttName = []voice.Transcriber{voice.NewMockTranscriber()}, "mock"
		}
	default:
		return speechSetup{}, fmt.Errorf("invalid APP_STT_PROVIDER: %q (expected auto|groq|mock)", cfg.STTProvider)
	}

	var (
		synth   voice.Synthesizer
		ttsName string
	)
	switch ttsMode {
	case "elevenlabs":
		s, ok := tryElevenLabs()
		if !ok {
			return speechSetup{}, fmt.Errorf("APP_TTS_PROVIDER=elevenlabs needs ELEVENLABS_API_KEY and ELEVENLABS_VOICE_ID")
		}
		synth, ttsName = s, "elevenlabs"
	case "mock":
		synth, ttsName = voice.NewMockSynthesizer(), "mock"
	case "auto":
		if s, ok := tryElevenLabs(); ok {
			synth, ttsName = s, "elevenlabs"
		} else {
			logger.Warn("no text-to-speech key configured; using tone synthesis")
			synth, ttsName = voice.NewMockSynthesizer(), "mock"
		}
	default:
		return speechSetup{}, fmt.Errorf("invalid APP_TTS_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.TTSProvider)
	}

	chain := voice.NewTranscriberChain(backends, voice.TranscriberChainOptions{
		Deadline: cfg.TranscriptionDeadline,
		Retries:  cfg.TranscriptionRetries,
		Metrics:  metrics,
		Logger:   logger,
	})
	return speechSetup{
		transcriber: chain,
		synth:       synth,
		detail:      fmt.Sprintf("stt=%s tts=%s", sttName, ttsName),
	}, nil
}
