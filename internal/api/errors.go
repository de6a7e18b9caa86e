package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
	"rivalcast/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// errorStatus maps domain errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrOrderNotFound), errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrInvalidTask), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, recording.ErrStaleHeartbeat):
		return http.StatusConflict, "stale_heartbeat"
	case errors.Is(err, recording.ErrInvalidState), errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

var errBadRequest = errors.New("bad request")

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	requestID, _ := services.RequestIDFromContext(r.Context())
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
		)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, RequestID: requestID})
}
