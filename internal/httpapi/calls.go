package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/phoneagent/internal/telephony"
)

const dialTimeout = 10 * time.Second

type dialRequest struct {
	To string `json:"to"`
}

type dialResponse struct {
	CallID string `json:"call_id"`
	To     string `json:"to"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"active":  s.registry.Count(),
		"ceiling": s.registry.Ceiling(),
		"calls":   s.registry.List(),
	})
}

// handleGetCall returns the live session when the call is in progress, else its call log entry.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(chi.URLParam(r, "callID"))
	if sess, ok := s.registry.Get(callID); ok {
		respondJSON(w, http.StatusOK, map[string]any{
			"live":    true,
			"session": sess.Snapshot(true),
		})
		return
	}
	if s.opts.CallLog != nil {
		entry, ok, err := s.opts.CallLog.Lookup(r.Context(), callID)
		if err != nil {
			s.logger.Warn("call log lookup failed", "call_id", callID, "error", err)
			respondError(w, http.StatusInternalServerError, "lookup_failed", "call log unavailable")
			return
		}
		if ok {
			respondJSON(w, http.StatusOK, map[string]any{
				"live": false,
				"call": entry,
			})
			return
		}
	}
	respondError(w, http.StatusNotFound, "call_not_found", "no call with id "+callID)
}

// handleDialCall places an outbound call whose media stream connects back to this server.
func (s *Server) handleDialCall(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to := strings.TrimSpace(req.To)
	if !validPhoneNumber(to) {
		respondError(w, http.StatusBadRequest, "invalid_number", "to must be an E.164 number")
		return
	}
	if s.opts.Telephony == nil {
		respondError(w, http.StatusServiceUnavailable, "telephony_unavailable", telephony.ErrNotConfigured.Error())
		return
	}
	if s.isDraining() || !s.registry.HasCapacity() {
		s.metrics.AdmissionRejected("capacity")
		respondError(w, http.StatusServiceUnavailable, "at_capacity", "no call capacity available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()
	params := map[string]string{
		"direction": "outbound",
		"from":      s.opts.Telephony.From(),
		"to":        to,
	}
	callID, err := s.opts.Telephony.Dial(ctx, to, s.streamURL(r), params)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, telephony.ErrNotConfigured) {
			code = http.StatusServiceUnavailable
		}
		s.logger.Warn("outbound dial failed", "to", to, "error", err)
		respondError(w, code, "dial_failed", err.Error())
		return
	}
	s.metrics.CallEvent("dialed")
	respondJSON(w, http.StatusCreated, dialResponse{CallID: callID, To: to})
}

func validPhoneNumber(n string) bool {
	if len(n) < 8 || len(n) > 16 || n[0] != '+' {
		return false
	}
	for _, r := range n[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
