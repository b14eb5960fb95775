package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/services/admission"
	"github.com/amyflash/audio-drama-system/services/sessions"
	"github.com/amyflash/audio-drama-system/services/streaming"
)

const (
	msgAuthRequired = "authentication required"
	msgUnavailable  = "service temporarily unavailable, please retry"
	msgInternal     = "internal server error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Success: false, Error: message})
}

// respondError maps a service error to its status, writes the standard
// error body and returns the status. Unknown errors are logged and reported
// without detail.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) int {
	status := statusFor(err)
	var rangeErr *streaming.RangeError
	switch {
	case errors.Is(err, admission.ErrUnauthorized):
		writeError(w, status, admission.ErrUnauthorized.Error())
	case errors.Is(err, streaming.ErrUnauthenticated):
		writeError(w, status, msgAuthRequired)
	case errors.Is(err, admission.ErrForbidden):
		writeError(w, status, admission.ErrForbidden.Error())
	case errors.Is(err, admission.ErrCapacityExceeded):
		writeError(w, status, admission.ErrCapacityExceeded.Error())
	case errors.Is(err, streaming.ErrNotFound):
		writeError(w, status, streaming.ErrNotFound.Error())
	case errors.Is(err, streaming.ErrFileMissing):
		writeError(w, status, streaming.ErrFileMissing.Error())
	case errors.As(err, &rangeErr):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.Size))
		writeError(w, status, streaming.ErrRangeNotSatisfiable.Error())
	case errors.Is(err, sessions.ErrStoreUnavailable):
		logger.Error("session store unavailable", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, status, msgUnavailable)
	default:
		logger.Error("request failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
		writeError(w, status, msgInternal)
	}
	return status
}

func statusFor(err error) int {
	var rangeErr *streaming.RangeError
	switch {
	case errors.Is(err, admission.ErrUnauthorized), errors.Is(err, streaming.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, admission.ErrForbidden), errors.Is(err, admission.ErrCapacityExceeded):
		return http.StatusForbidden
	case errors.Is(err, streaming.ErrNotFound), errors.Is(err, streaming.ErrFileMissing):
		return http.StatusNotFound
	case errors.As(err, &rangeErr):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, sessions.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
