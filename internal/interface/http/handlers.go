package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/truthrank/truthrank/internal/application/command"
	"github.com/truthrank/truthrank/internal/application/query"
	"github.com/truthrank/truthrank/internal/domain/rank"
	"github.com/truthrank/truthrank/internal/domain/shared"
	"github.com/truthrank/truthrank/internal/infrastructure/scheduler"
	"github.com/truthrank/truthrank/pkg/logger"
)

// maxBodyBytes caps request bodies of the ingestion endpoints.
const maxBodyBytes = 64 << 10

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetRankStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.GetRankStatus.Handle(r.Context(), query.GetRankStatusQuery{
		UserID: chi.URLParam(r, "userID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.RecalculateRank.RecalculateRank(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

type recordPredictionRequest struct {
	DisplayName string    `json:"display_name"`
	PlacedAt    time.Time `json:"placed_at"`
}

type recordResolutionRequest struct {
	PredictionID string         `json:"prediction_id"`
	Outcome      string         `json:"outcome"`
	UserVote     *string        `json:"user_vote"`
	Distribution map[string]int `json:"distribution"`
	ResolvedAt   time.Time      `json:"resolved_at"`
}

func (s *Server) handleRecordPrediction(w http.ResponseWriter, r *http.Request) {
	var req recordPredictionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.RecordActivity.HandlePrediction(r.Context(), command.RecordPredictionCommand{
		UserID:      chi.URLParam(r, "userID"),
		DisplayName: req.DisplayName,
		PlacedAt:    req.PlacedAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleRecordResolution(w http.ResponseWriter, r *http.Request) {
	var req recordResolutionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PredictionID == "" || req.Outcome == "" {
		writeJSONError(w, r, http.StatusBadRequest, "VALIDATION", "prediction_id and outcome are required")
		return
	}
	res, err := s.deps.RecordActivity.HandleResolution(r.Context(), command.RecordResolutionCommand{
		UserID:       chi.URLParam(r, "userID"),
		PredictionID: req.PredictionID,
		Outcome:      req.Outcome,
		UserVote:     req.UserVote,
		Distribution: req.Distribution,
		ResolvedAt:   req.ResolvedAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	res, err := s.deps.GetLeaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		Rank:  rank.RankID(chi.URLParam(r, "rank")),
		Limit: limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleInvalidateLeaderboard(w http.ResponseWriter, r *http.Request) {
	tier := rank.RankID(chi.URLParam(r, "rank"))
	if err := s.deps.Leaderboards.Invalidate(r.Context(), tier); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"rank": tier.String(), "status": "invalidated"})
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, r, http.StatusOK, []scheduler.JobInfo{})
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Jobs.ListJobs())
}

// handleRunJob runs a job synchronously. The run is detached from the
// request so that a disconnecting client does not abort a batch halfway.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "NO_SCHEDULER", "jobs are not available in this process")
		return
	}
	name := chi.URLParam(r, "name")
	res, err := s.deps.Jobs.RunNow(context.WithoutCancel(r.Context()), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		writeJSONError(w, r, http.StatusConflict, "JOB_RUNNING", err.Error())
		return
	case err != nil && res == nil:
		s.writeError(w, r, err)
		return
	}
	// A run that failed still reports its summary.
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps the domain error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *shared.RateLimitError
	switch {
	case errors.As(err, &rl):
		wait := rl.NextAllowedAt.Sub(s.deps.Clock.Now())
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
		next := rl.NextAllowedAt
		writeEnvelope(w, http.StatusTooManyRequests, JSONResponse{
			Error:     &APIError{Code: "RATE_LIMITED", Message: err.Error(), RetryAfter: &next},
			RequestID: middleware.GetReqID(r.Context()),
		})
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "VALIDATION", err.Error())
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
	case shared.IsConflict(err), errors.Is(err, shared.ErrAlreadyExists):
		writeJSONError(w, r, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		writeJSONError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Msg("request failed")
		writeJSONError(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeJSONError(w, r, http.StatusBadRequest, "VALIDATION", key+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}
