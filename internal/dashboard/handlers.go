// Package dashboard exposes the operator HTTP API: login, daily statistics,
// recent sessions, and a manual reconcile trigger.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"parkgate/internal/auth"
	"parkgate/internal/models"
	"parkgate/internal/reconcile"
)

// Operators is the operator lookup surface.
type Operators interface {
	FindByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// Sessions is the session read surface.
type Sessions interface {
	RecentSessions(ctx context.Context, limit int) ([]models.Session, error)
}

// Stats recomputes aggregates and merges the journal on demand.
type Stats interface {
	RecomputeDay(ctx context.Context, date string) (models.DailyAggregate, error)
	MergeJournal(ctx context.Context) (reconcile.MergeStats, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewLoginHandler returns POST /v1/auth/login handler.
func NewLoginHandler(operators Operators, hasher auth.Hasher, tokens *auth.TokenService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		operator, err := operators.FindByUsername(r.Context(), req.Username)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err := hasher.Compare(operator.PasswordHash, req.Password); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := tokens.GenerateToken(operator.ID, operator.Role)
		if err != nil {
			logger.Error("token generation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"token": token,
			"role":  operator.Role,
		})
	}
}

// NewStatsHandler returns GET /v1/stats handler. Statistics are recomputed
// from raw session rows on every request, so the response never serves a stale
// aggregate.
func NewStatsHandler(stats Stats, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().Format(models.DateLayout)
		} else if _, err := time.Parse(models.DateLayout, date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}

		agg, err := stats.RecomputeDay(r.Context(), date)
		if err != nil {
			logger.Error("stats recompute failed", zap.String("date", date), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to compute statistics")
			return
		}
		writeJSON(w, http.StatusOK, agg)
	}
}

// NewRecentSessionsHandler returns GET /v1/sessions/recent handler.
func NewRecentSessionsHandler(sessions Sessions, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 200 {
				writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
				return
			}
			limit = parsed
		}

		recent, err := sessions.RecentSessions(r.Context(), limit)
		if err != nil {
			logger.Error("recent sessions fetch failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch sessions")
			return
		}
		if recent == nil {
			recent = []models.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessions": recent,
		})
	}
}

// NewReconcileHandler returns POST /internal/reconcile handler for forcing a
// journal merge outside the timer.
func NewReconcileHandler(stats Stats, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		merged, err := stats.MergeJournal(r.Context())
		if err != nil {
			logger.Error("manual reconcile failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "reconcile failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"inserted": merged.Inserted,
			"updated":  merged.Updated,
		})
	}
}

// NewHealthHandler returns GET /healthz handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
