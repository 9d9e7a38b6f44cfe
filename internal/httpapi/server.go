package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/calllog"
	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/protocol"
	"github.com/ent0n29/phoneagent/internal/search"
	"github.com/ent0n29/phoneagent/internal/session"
	"github.com/ent0n29/phoneagent/internal/telephony"
	"github.com/ent0n29/phoneagent/internal/voice"
)

// CallFactory builds the controller for a newly admitted call.
type CallFactory func(sess *session.Session, transport voice.Transport, format audio.Format) *voice.Controller

type Options struct {
	// PublicURL is the externally reachable base URL, used to build stream URLs.
	PublicURL string
	Registry  *session.Registry
	NewCall   CallFactory
	Telephony *telephony.Client
	Validator *telephony.Validator
	CallLog   calllog.Reader
	Searcher  search.Searcher
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type Server struct {
	opts     Options
	registry *session.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// baseCtx outlives individual requests; calls run under it until Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	calls    map[string]*voice.Controller
	draining bool
	wg       sync.WaitGroup
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = session.NewRegistry(session.DefaultCeiling, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     opts,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media streams come from the telephony provider, which sends no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		baseCtx:    ctx,
		cancelBase: cancel,
		calls:      make(map[string]*voice.Controller),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/twilio/voice", s.handleVoiceWebhook)
	r.Post("/twilio/status", s.handleStatusWebhook)
	r.Post("/twilio/fallback", s.handleFallbackWebhook)
	r.Get("/twilio/stream", s.handleStream)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/calls", s.handleListCalls)
	r.Post("/v1/calls", s.handleDialCall)
	r.Get("/v1/calls/{callID}", s.handleGetCall)
	r.Post("/v1/properties/search", s.handlePropertySearch)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.registry.Count(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	switch {
	case s.isDraining():
		status, code = "draining", http.StatusServiceUnavailable
	case !s.registry.HasCapacity():
		status, code = "at_capacity", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":       status,
		"active_calls": s.registry.Count(),
		"ceiling":      s.registry.Ceiling(),
	})
}

// ExpireCall is the registry's expire hook: the call's controller ends it for inactivity.
func (s *Server) ExpireCall(sess *session.Session) {
	if ctrl := s.liveCall(sess.ID()); ctrl != nil {
		ctrl.End(protocol.EndReasonInactivity)
		return
	}
	s.registry.Remove(sess.ID())
}

// EndAll asks every live call to finish with reason.
func (s *Server) EndAll(reason string) int {
	s.mu.Lock()
	s.draining = true
	ctrls := make([]*voice.Controller, 0, len(s.calls))
	for _, ctrl := range s.calls {
		ctrls = append(ctrls, ctrl)
	}
	s.mu.Unlock()
	for _, ctrl := range ctrls {
		ctrl.End(reason)
	}
	return len(ctrls)
}

// Shutdown stops admitting calls, ends live ones with reason and waits for their controllers
// to finish or for ctx.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	if n := s.EndAll(reason); n > 0 {
		s.logger.Info("ending live calls", "count", n, "reason", reason)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancelBase()
		return nil
	case <-ctx.Done():
		s.cancelBase()
		return ctx.Err()
	}
}

func (s *Server) isDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

func (s *Server) liveCall(callID string) *voice.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callID]
}

// track registers a live controller. It fails once the server is draining.
func (s *Server) track(callID string, ctrl *voice.Controller) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.calls[callID] = ctrl
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(callID string) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
	s.wg.Done()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
