package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the phone agent service.
type Config struct {
	BindAddr         string
	PublicURL        string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogFormat        string
	LogLevel         string

	MaxConcurrentCalls    int
	CallInactivityTimeout time.Duration
	PersonaFile           string
	TransferNumber        string
	PaceAudio             bool

	VADEnergyThreshold float64
	VADWindowFrames    int
	VADStartFrames     int
	VADPreRoll         time.Duration
	VADHangover        time.Duration
	VADMaxUtterance    time.Duration
	BargeInFrames      int
	BargeInThreshold   float64

	// ReasoningProviders is the ordered fallback chain, e.g. "groq,gemini,mock".
	ReasoningProviders []string
	ReasoningDeadline  time.Duration
	ReasoningAttempt   time.Duration
	ReasoningMaxTokens int
	SearchBudgetShare  float64
	GroqAPIKey         string
	GroqModel          string
	OpenAIAPIKey       string
	OpenAIModel        string
	ZAIAPIKey          string
	ZAIModel           string
	GeminiAPIKey       string
	GeminiModel        string
	CompatibleBaseURL  string
	CompatibleAPIKey   string
	CompatibleModel    string

	STTProvider            string
	GroqSTTModel           string
	TranscriptionDeadline  time.Duration
	TranscriptionRetries   int
	TTSProvider            string
	SynthFirstFrameTimeout time.Duration

	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsVoiceID   string
	ElevenLabsModelID   string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	DatabaseURL string
}

// Load reads an optional .env file, then environment variables, and applies safe defaults.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("APP_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicURL:           strings.TrimRight(stringsTrimSpace("APP_PUBLIC_URL"), "/"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "phoneagent"),
		LogFormat:           strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		LogLevel:            strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		PersonaFile:         stringsTrimSpace("APP_PERSONA_FILE"),
		TransferNumber:      stringsTrimSpace("APP_TRANSFER_NUMBER"),
		ReasoningProviders:  splitList(envOrDefault("APP_REASONING_PROVIDERS", "groq,gemini,mock")),
		GroqAPIKey:          stringsTrimSpace("GROQ_API_KEY"),
		GroqModel:           stringsTrimSpace("GROQ_MODEL"),
		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:         stringsTrimSpace("OPENAI_MODEL"),
		ZAIAPIKey:           stringsTrimSpace("ZAI_API_KEY"),
		ZAIModel:            stringsTrimSpace("ZAI_MODEL"),
		GeminiAPIKey:        stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:         stringsTrimSpace("GEMINI_MODEL"),
		CompatibleBaseURL:   stringsTrimSpace("LLM_BASE_URL"),
		CompatibleAPIKey:    stringsTrimSpace("LLM_API_KEY"),
		CompatibleModel:     stringsTrimSpace("LLM_MODEL"),
		STTProvider:         strings.ToLower(envOrDefault("APP_STT_PROVIDER", "auto")),
		GroqSTTModel:        envOrDefault("GROQ_STT_MODEL", "whisper-large-v3-turbo"),
		TTSProvider:         strings.ToLower(envOrDefault("APP_TTS_PROVIDER", "auto")),
		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// A calm premade voice that reads numbers well over the phone.
		ElevenLabsVoiceID: envOrDefault("ELEVENLABS_VOICE_ID", "EXAVITQu4vr4xnSDxMaL"),
		ElevenLabsModelID: envOrDefault("ELEVENLABS_MODEL_ID", "eleven_flash_v2_5"),
		TwilioAccountSID:  stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber: stringsTrimSpace("TWILIO_PHONE_NUMBER"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:        15 * time.Second,
		MaxConcurrentCalls:     10,
		CallInactivityTimeout:  60 * time.Second,
		VADEnergyThreshold:     500,
		VADWindowFrames:        10,
		VADStartFrames:         6,
		VADPreRoll:             300 * time.Millisecond,
		VADHangover:            700 * time.Millisecond,
		VADMaxUtterance:        15 * time.Second,
		BargeInFrames:          8,
		BargeInThreshold:       1200,
		ReasoningDeadline:      2 * time.Second,
		ReasoningMaxTokens:     150,
		SearchBudgetShare:      0.5,
		TranscriptionDeadline:  1500 * time.Millisecond,
		TranscriptionRetries:   1,
		SynthFirstFrameTimeout: 800 * time.Millisecond,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentCalls, err = intFromEnv("APP_MAX_CONCURRENT_CALLS", cfg.MaxConcurrentCalls); err != nil {
		return Config{}, err
	}
	if cfg.CallInactivityTimeout, err = durationFromEnv("APP_CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.PaceAudio, err = boolFromEnv("APP_PACE_AUDIO", cfg.PaceAudio); err != nil {
		return Config{}, err
	}

	if cfg.VADEnergyThreshold, err = floatFromEnv("APP_VAD_ENERGY_THRESHOLD", cfg.VADEnergyThreshold); err != nil {
		return Config{}, err
	}
	if cfg.VADWindowFrames, err = intFromEnv("APP_VAD_WINDOW_FRAMES", cfg.VADWindowFrames); err != nil {
		return Config{}, err
	}
	if cfg.VADStartFrames, err = intFromEnv("APP_VAD_START_FRAMES", cfg.VADStartFrames); err != nil {
		return Config{}, err
	}
	if cfg.VADPreRoll, err = durationFromEnv("APP_VAD_PREROLL", cfg.VADPreRoll); err != nil {
		return Config{}, err
	}
	if cfg.VADHangover, err = durationFromEnv("APP_VAD_HANGOVER", cfg.VADHangover); err != nil {
		return Config{}, err
	}
	if cfg.VADMaxUtterance, err = durationFromEnv("APP_VAD_MAX_UTTERANCE", cfg.VADMaxUtterance); err != nil {
		return Config{}, err
	}
	if cfg.BargeInFrames, err = intFromEnv("APP_BARGE_IN_FRAMES", cfg.BargeInFrames); err != nil {
		return Config{}, err
	}
	if cfg.BargeInThreshold, err = floatFromEnv("APP_BARGE_IN_THRESHOLD", cfg.BargeInThreshold); err != nil {
		return Config{}, err
	}

	if cfg.ReasoningDeadline, err = durationFromEnv("APP_REASONING_DEADLINE", cfg.ReasoningDeadline); err != nil {
		return Config{}, err
	}
	if cfg.ReasoningAttempt, err = durationFromEnv("APP_REASONING_ATTEMPT_TIMEOUT", cfg.ReasoningAttempt); err != nil {
		return Config{}, err
	}
	if cfg.ReasoningMaxTokens, err = intFromEnv("APP_REASONING_MAX_TOKENS", cfg.ReasoningMaxTokens); err != nil {
		return Config{}, err
	}
	if cfg.SearchBudgetShare, err = floatFromEnv("APP_SEARCH_BUDGET_SHARE", cfg.SearchBudgetShare); err != nil {
		return Config{}, err
	}
	if cfg.TranscriptionDeadline, err = durationFromEnv("APP_TRANSCRIPTION_DEADLINE", cfg.TranscriptionDeadline); err != nil {
		return Config{}, err
	}
	if cfg.TranscriptionRetries, err = intFromEnv("APP_TRANSCRIPTION_RETRIES", cfg.TranscriptionRetries); err != nil {
		return Config{}, err
	}
	if cfg.SynthFirstFrameTimeout, err = durationFromEnv("APP_SYNTH_FIRST_FRAME_TIMEOUT", cfg.SynthFirstFrameTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.MaxConcurrentCalls <= 0:
		return fmt.Errorf("APP_MAX_CONCURRENT_CALLS must be positive")
	case c.CallInactivityTimeout < 5*time.Second:
		return fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be at least 5s")
	case c.VADEnergyThreshold <= 0:
		return fmt.Errorf("APP_VAD_ENERGY_THRESHOLD must be positive")
	case c.VADWindowFrames <= 0:
		return fmt.Errorf("APP_VAD_WINDOW_FRAMES must be positive")
	case c.VADStartFrames <= 0 || c.VADStartFrames > c.VADWindowFrames:
		return fmt.Errorf("APP_VAD_START_FRAMES must be between 1 and APP_VAD_WINDOW_FRAMES")
	case c.VADPreRoll < 0:
		return fmt.Errorf("APP_VAD_PREROLL must be >= 0")
	case c.VADHangover < 100*time.Millisecond:
		return fmt.Errorf("APP_VAD_HANGOVER must be at least 100ms")
	case c.VADMaxUtterance < time.Second:
		return fmt.Errorf("APP_VAD_MAX_UTTERANCE must be at least 1s")
	case c.BargeInFrames <= 0:
		return fmt.Errorf("APP_BARGE_IN_FRAMES must be positive")
	case c.BargeInThreshold <= 0:
		return fmt.Errorf("APP_BARGE_IN_THRESHOLD must be positive")
	case c.ReasoningDeadline < 100*time.Millisecond:
		return fmt.Errorf("APP_REASONING_DEADLINE must be at least 100ms")
	case c.ReasoningAttempt < 0:
		return fmt.Errorf("APP_REASONING_ATTEMPT_TIMEOUT must be >= 0")
	case c.ReasoningMaxTokens <= 0:
		return fmt.Errorf("APP_REASONING_MAX_TOKENS must be positive")
	case c.SearchBudgetShare <= 0 || c.SearchBudgetShare >= 1:
		return fmt.Errorf("APP_SEARCH_BUDGET_SHARE must be between 0 and 1")
	case c.TranscriptionDeadline <= 0:
		return fmt.Errorf("APP_TRANSCRIPTION_DEADLINE must be positive")
	case c.TranscriptionRetries < 0:
		return fmt.Errorf("APP_TRANSCRIPTION_RETRIES must be >= 0")
	case c.SynthFirstFrameTimeout <= 0:
		return fmt.Errorf("APP_SYNTH_FIRST_FRAME_TIMEOUT must be positive")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("APP_LOG_FORMAT must be text or json")
	}
	if len(c.ReasoningProviders) == 0 {
		return fmt.Errorf("APP_REASONING_PROVIDERS must list at least one provider")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// TwilioEnabled reports whether REST credentials for call control are present.
func (c Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// loadDotEnv applies path when it exists. A missing file is not an error.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
