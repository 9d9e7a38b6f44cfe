package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/search"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
)

type propertySearchRequest struct {
	Query       string  `json:"query"`
	MaxPrice    float64 `json:"max_price,omitempty"`
	MinBedrooms int     `json:"min_bedrooms,omitempty"`
	City        string  `json:"city,omitempty"`
	Limit       int     `json:"limit,omitempty"`
}

type propertySearchResponse struct {
	Results []search.Result `json:"results"`
	Total   int             `json:"total"`
	Query   string          `json:"query"`
}

// handlePropertySearch runs the same catalog search the agent uses, for operators and demos.
func (s *Server) handlePropertySearch(w http.ResponseWriter, r *http.Request) {
	if s.opts.Searcher == nil {
		respondError(w, http.StatusServiceUnavailable, "search_unavailable", "property search is not configured")
		return
	}
	var req propertySearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit < 1 || req.Limit > maxSearchLimit {
		respondError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 20")
		return
	}
	if req.MaxPrice < 0 || req.MinBedrooms < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "max_price and min_bedrooms must not be negative")
		return
	}

	start := time.Now()
	results, err := s.opts.Searcher.Search(r.Context(), search.Query{
		Text:        req.Query,
		MaxPrice:    req.MaxPrice,
		MinBedrooms: req.MinBedrooms,
		City:        strings.TrimSpace(req.City),
		Limit:       req.Limit,
	})
	if err != nil {
		s.metrics.StageFailed(observability.StageSearch, observability.FailureReason(err))
		s.logger.Error("property search failed", "error", err)
		respondError(w, http.StatusInternalServerError, "search_failed", err.Error())
		return
	}
	s.metrics.ObserveStage(observability.StageSearch, time.Since(start))
	if results == nil {
		results = []search.Result{}
	}
	respondJSON(w, http.StatusOK, propertySearchResponse{
		Results: results,
		Total:   len(results),
		Query:   req.Query,
	})
}
