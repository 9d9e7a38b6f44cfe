package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/calllog"
	"github.com/ent0n29/phoneagent/internal/config"
	"github.com/ent0n29/phoneagent/internal/httpapi"
	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/persona"
	"github.com/ent0n29/phoneagent/internal/reasoning"
	"github.com/ent0n29/phoneagent/internal/search"
	"github.com/ent0n29/phoneagent/internal/session"
	"github.com/ent0n29/phoneagent/internal/storage"
	"github.com/ent0n29/phoneagent/internal/telephony"
	"github.com/ent0n29/phoneagent/internal/voice"
)

const prerenderTimeout = 10 * time.Second

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Registry  *session.Registry
	Recorder  *calllog.Recorder
	Metrics   *observability.Metrics
	Persona   persona.Persona
	Providers []string
	Speech    string
	StoreMode string

	// Cleanup flushes the call log and releases the database pool.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, fmt.Errorf("persona init failed: %w", err)
	}

	var pool *pgxpool.Pool
	storeMode := "in-memory"
	if cfg.DatabaseURL != "" {
		pool, err = storage.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		storeMode = "postgres"
	}
	closePool := func() {
		if pool != nil {
			pool.Close()
		}
	}

	var searcher search.Searcher = search.NewMemorySearcher(search.SampleCatalog())
	if pool != nil {
		n, err := search.SeedIfEmpty(ctx, pool, search.SampleCatalog())
		if err != nil {
			closePool()
			return nil, fmt.Errorf("property catalog init failed: %w", err)
		}
		if n > 0 {
			logger.Info("seeded property catalog", "rows", n)
		}
		searcher = search.NewPostgresSearcher(pool)
	}

	chain := reasoning.NewChain(ctx, providerConfigs(cfg), logger)
	responder := reasoning.NewOrchestrator(chain, reasoning.NewToolbox(searcher, reasoning.ToolboxOptions{
		BudgetShare: cfg.SearchBudgetShare,
		Metrics:     metrics,
		Logger:      logger,
	}), reasoning.Options{
		Deadline:       cfg.ReasoningDeadline,
		AttemptTimeout: cfg.ReasoningAttempt,
		SystemPrompt:   p.SystemPrompt,
		FallbackText:   p.Phrases.Repeat,
		TransferText:   p.Phrases.Transfer,
		GoodbyeText:    p.Phrases.Goodbye,
		Metrics:        metrics,
		Logger:         logger,
	})

	speech, err := resolveSpeech(cfg, metrics, logger)
	if err != nil {
		closePool()
		return nil, err
	}
	phrases := voice.Prerender(ctx, speech.synth, []string{
		p.Greeting,
		p.Phrases.HoldOn,
		p.Phrases.Apology,
		p.Phrases.Repeat,
		p.Phrases.Transfer,
		p.Phrases.Goodbye,
	}, prerenderTimeout, logger)
	streamer := voice.NewStreamer(speech.synth, phrases, p.Phrases.HoldOn, voice.StreamerConfig{
		FirstFrameTimeout: cfg.SynthFirstFrameTimeout,
		Metrics:           metrics,
		Logger:            logger,
	})

	store := calllog.NewStore(pool)
	recorder := calllog.NewRecorder(store, calllog.RecorderOptions{
		RedactPII: true,
		Metrics:   metrics,
		Logger:    logger,
	})

	registry := session.NewRegistry(cfg.MaxConcurrentCalls, cfg.CallInactivityTimeout)
	endpointer := voice.EndpointerConfig{
		EnergyThreshold:  cfg.VADEnergyThreshold,
		WindowFrames:     cfg.VADWindowFrames,
		StartFrames:      cfg.VADStartFrames,
		PreRoll:          cfg.VADPreRoll,
		Hangover:         cfg.VADHangover,
		MaxUtterance:     cfg.VADMaxUtterance,
		BargeInFrames:    cfg.BargeInFrames,
		BargeInThreshold: cfg.BargeInThreshold,
	}

	newCall := func(sess *session.Session, transport voice.Transport, format audio.Format) *voice.Controller {
		snap := sess.Snapshot(false)
		recorder.CallStarted(calllog.CallRecord{
			CallID:    snap.CallID,
			Direction: snap.Direction,
			From:      snap.From,
			To:        snap.To,
			StartedAt: snap.StartedAt,
		})
		return voice.NewController(sess, voice.ControllerDeps{
			Registry:    registry,
			Transcriber: speech.transcriber,
			Responder:   responder,
			Streamer:    streamer,
			Transport:   transport,
			CallLog:     recorder,
		}, voice.ControllerConfig{
			Format:         format,
			Endpointer:     endpointer,
			Persona:        p,
			TransferNumber: cfg.TransferNumber,
			Pace:           cfg.PaceAudio,
			Metrics:        metrics,
			Logger:         logger,
		})
	}

	api := httpapi.New(httpapi.Options{
		PublicURL: cfg.PublicURL,
		Registry:  registry,
		NewCall:   newCall,
		Telephony: telephony.NewClient(telephony.Config{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioPhoneNumber,
			Logger:     logger,
		}),
		Validator: telephony.NewValidator(cfg.TwilioAuthToken, cfg.PublicURL),
		CallLog:   store,
		Searcher:  searcher,
		Metrics:   metrics,
		Logger:    logger,
	})
	registry.SetExpireHook(api.ExpireCall)

	cleanup := func(ctx context.Context) error {
		var errs []error
		if err := recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush call log: %w", err))
		}
		closePool()
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Registry:  registry,
		Recorder:  recorder,
		Metrics:   metrics,
		Persona:   p,
		Providers: responder.Providers(),
		Speech:    speech.detail,
		StoreMode: storeMode,
		Cleanup:   cleanup,
	}, nil
}

// providerConfigs maps the configured chain order onto provider credentials.
func providerConfigs(cfg config.Config) []reasoning.ProviderConfig {
	out := make([]reasoning.ProviderConfig, 0, len(cfg.ReasoningProviders))
	for _, kind := range cfg.ReasoningProviders {
		pc := reasoning.ProviderConfig{Kind: kind, MaxTokens: cfg.ReasoningMaxTokens}
		switch kind {
		case "groq":
			pc.APIKey, pc.Model = cfg.GroqAPIKey, cfg.GroqModel
		case "openai":
			pc.APIKey, pc.Model = cfg.OpenAIAPIKey, cfg.OpenAIModel
		case "zai":
			pc.APIKey, pc.Model = cfg.ZAIAPIKey, cfg.ZAIModel
		case "gemini":
			pc.APIKey, pc.Model = cfg.GeminiAPIKey, cfg.GeminiModel
		case "openai-compatible", "compatible":
			pc.Kind = "openai-compatible"
			pc.BaseURL, pc.APIKey, pc.Model = cfg.CompatibleBaseURL, cfg.CompatibleAPIKey, cfg.CompatibleModel
		}
		out = append(out, pc)
	}
	return out
}
