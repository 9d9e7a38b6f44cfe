package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/phoneagent/internal/protocol"
	"github.com/ent0n29/phoneagent/internal/telephony"
)

// handleVoiceWebhook answers an incoming call: busy when at capacity, otherwise TwiML that
// connects the call audio to the media stream endpoint.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Validator.Validate(r) {
		s.logger.Warn("voice webhook signature rejected", "remote", r.RemoteAddr)
		respondError(w, http.StatusForbidden, "invalid_signature", "request signature did not validate")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callSID := r.PostForm.Get("CallSid")
	logger := s.logger.With("call_id", callSID)

	if s.isDraining() || !s.registry.HasCapacity() {
		s.metrics.AdmissionRejected("capacity")
		logger.Warn("call rejected; at capacity", "active", s.registry.Count(), "ceiling", s.registry.Ceiling())
		body, err := telephony.BusyResponse()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
			return
		}
		respondTwiML(w, body)
		return
	}

	direction := strings.ToLower(r.PostForm.Get("Direction"))
	if direction == "" {
		direction = "inbound"
	}
	body, err := telephony.StreamResponse(s.streamURL(r), map[string]string{
		"direction": direction,
		"from":      r.PostForm.Get("From"),
		"to":        r.PostForm.Get("To"),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	s.metrics.CallEvent("webhook_accepted")
	logger.Info("call accepted", "direction", direction)
	respondTwiML(w, body)
}

// handleStatusWebhook ends live calls the provider reports as finished.
func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Validator.Validate(r) {
		respondError(w, http.StatusForbidden, "invalid_signature", "request signature did not validate")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	callSID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	s.metrics.CallEvent("status_" + statusLabel(status))
	if terminalCallStatus(status) {
		if ctrl := s.liveCall(callSID); ctrl != nil {
			ctrl.End(protocol.EndReasonHangup)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// fallbackMessage is spoken when the provider could not reach the primary voice webhook.
const fallbackMessage = "I'm sorry, we're experiencing technical difficulties. Please try again later."

func (s *Server) handleFallbackWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.opts.Validator.Validate(r) {
		respondError(w, http.StatusForbidden, "invalid_signature", "request signature did not validate")
		return
	}
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.metrics.CallEvent("fallback")
	s.logger.Error("voice webhook fallback invoked",
		"call_id", r.PostForm.Get("CallSid"),
		"error_code", r.PostForm.Get("ErrorCode"),
		"error_url", r.PostForm.Get("ErrorUrl"),
	)
	body, err := telephony.SayResponse(fallbackMessage)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	respondTwiML(w, body)
}

func terminalCallStatus(status string) bool {
	switch status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		return true
	default:
		return false
	}
}

func statusLabel(status string) string {
	switch status {
	case "queued", "initiated", "ringing", "in-progress", "completed", "busy", "failed", "no-answer", "canceled":
		return strings.ReplaceAll(status, "-", "_")
	default:
		return "unknown"
	}
}

// streamURL is the websocket URL the provider connects call audio to.
func (s *Server) streamURL(r *http.Request) string {
	base := strings.TrimRight(s.opts.PublicURL, "/")
	if base == "" {
		base = telephony.BaseURL(r)
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/twilio/stream"
}
