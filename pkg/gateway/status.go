package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	providertypes "carebot/pkg/provider/types"
)

// readinessProbe must be reachable for /readyz to pass; every answer goes
// through the reasoning upstream.
const readinessProbe = string(providertypes.KindReasoning)

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Channels      map[string]channelState `json:"channels"`
}

type dependencyStatus struct {
	Reachable     bool   `json:"reachable"`
	LastOKAt      string `json:"last_ok_at,omitempty"`
	LastCheckedAt string `json:"last_checked_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	// RateLimitRemaining is -1 for dependencies without a quota.
	RateLimitRemaining *int `json:"rate_limit_remaining,omitempty"`
}

type healthResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReady)
	r.Get("/health", s.handleDependencies)

	return r
}

func (s *Service) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.writeJSON(w, statusCode, s.currentStatus(status))
}

// handleDependencies reports each upstream and the language service as
// reachable or unreachable. It always answers 200; degraded upstreams are
// reported, not fatal.
func (s *Service) handleDependencies(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	dependencies := make(map[string]dependencyStatus, len(s.probeStates))
	allReachable := true
	for name, state := range s.probeStates {
		status := dependencyStatus{
			Reachable: state.Reachable,
			LastError: state.LastError,
		}
		if !state.LastOKAt.IsZero() {
			status.LastOKAt = state.LastOKAt.Format(time.RFC3339)
		}
		if !state.LastChecked.IsZero() {
			status.LastCheckedAt = state.LastChecked.Format(time.RFC3339)
		}
		if !state.Reachable {
			allReachable = false
		}
		dependencies[name] = status
	}
	s.mu.RUnlock()

	if s.quotas != nil {
		for _, kind := range providertypes.Kinds {
			status, ok := dependencies[string(kind)]
			if !ok {
				continue
			}
			remaining := s.quotas.Remaining(kind)
			status.RateLimitRemaining = &remaining
			dependencies[string(kind)] = status
		}
	}

	overall := "healthy"
	if !allReachable {
		overall = "degraded"
	}

	s.writeJSON(w, http.StatusOK, healthResponse{Status: overall, Dependencies: dependencies})
}

func (s *Service) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channels:      channels,
	}
}

// isReady requires a running channel and, when a reasoning probe is
// registered, its last check to have succeeded.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}
	if !anyRunning {
		return false
	}

	state, ok := s.probeStates[readinessProbe]
	if !ok {
		return true
	}

	return state.Reachable
}
