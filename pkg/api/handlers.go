package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type selectRequest struct {
	Profile       string                `json:"profile"`
	RiskProfile   *betting.RiskProfile  `json:"risk_profile"`
	Opportunities []betting.Opportunity `json:"opportunities"`
}

type selectResponse struct {
	RunID   string              `json:"run_id"`
	Profile string              `json:"profile"`
	Bets    []betting.RankedBet `json:"bets"`
}

type validateRequest struct {
	Profile     string               `json:"profile"`
	RiskProfile *betting.RiskProfile `json:"risk_profile"`
	Opportunity betting.Opportunity  `json:"opportunity"`
}

type kellyResponse struct {
	Probability   float64 `json:"probability"`
	Odds          float64 `json:"odds"`
	Fraction      float64 `json:"fraction"`
	StakeFraction float64 `json:"stake_fraction"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "betselectd",
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, status, err := s.resolveProfile(req.Profile, req.RiskProfile)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	resp := selectResponse{
		RunID:   uuid.New().String(),
		Profile: profile.Name,
		Bets:    s.selector.SelectRanked(req.Opportunities, profile),
	}

	if s.metrics != nil {
		s.metrics.RecordSelection(profile.Name, len(resp.Bets))
	}
	if s.hub != nil {
		s.hub.BroadcastSelection(resp)
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, status, err := s.resolveProfile(req.Profile, req.RiskProfile)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, s.selector.Validator().Validate(req.Opportunity, profile))
}

func (s *Server) handleKelly(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	probability, err := parseFloatParam(q.Get("probability"), -1)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	odds, err := parseFloatParam(q.Get("odds"), -1)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	fraction, err := parseFloatParam(q.Get("fraction"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if probability < 0 || odds < 0 {
		respondError(w, http.StatusBadRequest, "probability and odds are required")
		return
	}

	respondJSON(w, http.StatusOK, kellyResponse{
		Probability:   probability,
		Odds:          odds,
		Fraction:      fraction,
		StakeFraction: betting.KellyStake(probability, odds, fraction),
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]*betting.RiskProfile)
	for _, name := range s.profiles.ProfileNames() {
		p, err := s.profiles.Profile(name)
		if err != nil {
			continue
		}
		out[name] = p
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.selector.Models().Snapshot())
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	stats, ok := s.selector.Models().Get(model)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no results for model %q", model))
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	var result betting.BetResult
	if !decodeJSON(w, r, &result) {
		return
	}

	stats, err := s.selector.UpdateModelPerformance(chi.URLParam(r, "model"), result)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSettlement(stats, result.Won)
	}
	if s.hub != nil {
		s.hub.BroadcastSettlement(stats)
	}

	respondJSON(w, http.StatusOK, stats)
}

// resolveProfile prefers an inline profile over a named one and returns the
// HTTP status to use on failure.
func (s *Server) resolveProfile(name string, inline *betting.RiskProfile) (*betting.RiskProfile, int, error) {
	if inline != nil {
		if inline.Name == "" {
			inline.Name = "custom"
		}
		if err := inline.Validate(); err != nil {
			return nil, http.StatusBadRequest, err
		}
		return inline, 0, nil
	}

	p, err := s.profiles.Profile(name)
	if err != nil {
		return nil, http.StatusNotFound, err
	}
	return p, 0, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return false
	}
	return true
}

var errBadNumber = errors.New("invalid number")

func parseFloatParam(raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadNumber, raw)
	}
	return v, nil
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
