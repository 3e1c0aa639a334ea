package lane

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type candidateRequest struct {
	Plate string `json:"plate"`
}

// NewCandidateHandler returns POST /v1/plates handler: the recognition
// pipeline posts each raw frame reading here.
func NewCandidateHandler(l *Lane, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req candidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Plate == "" {
			writeError(w, http.StatusBadRequest, "plate is required")
			return
		}

		decision, err := l.Submit(r.Context(), req.Plate)
		if err != nil {
			logger.Error("candidate handling failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to process candidate")
			return
		}
		if decision == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "buffering"})
			return
		}
		writeJSON(w, http.StatusOK, decision)
	}
}

// NewHealthHandler returns GET /healthz handler.
func NewHealthHandler(direction string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"direction": direction,
		})
	}
}

// Routes mounts the lane's HTTP surface.
func Routes(l *Lane, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", requireMethod(http.MethodGet, NewHealthHandler(l.Direction())))
	mux.HandleFunc("/v1/plates", requireMethod(http.MethodPost, NewCandidateHandler(l, logger)))
	return mux
}

func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
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
