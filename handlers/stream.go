package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/amyflash/audio-drama-system/metrics"
	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/services/streaming"
	"github.com/amyflash/audio-drama-system/utils"
)

func episodeID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["episodeID"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// StreamTokenHandler hands out a short-lived token the player can put in
// the stream URL, where it cannot send an Authorization header.
func StreamTokenHandler(w http.ResponseWriter, r *http.Request, engine *streaming.Engine, logger *slog.Logger) {
	user := CurrentUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, msgAuthRequired)
		return
	}
	id, ok := episodeID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid episode id")
		return
	}

	token, err := engine.IssueStreamToken(user.ID.String(), id)
	if err != nil {
		respondError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StreamTokenResponse{
		Success:   true,
		Token:     token,
		ExpiresIn: engine.StreamTokenTTLSeconds(),
	})
}

func StreamHandler(w http.ResponseWriter, r *http.Request, engine *streaming.Engine, m *metrics.Metrics, logger *slog.Logger) {
	id, ok := episodeID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid episode id")
		m.ObserveStream(http.StatusBadRequest, 0)
		return
	}

	userID, err := engine.Authenticate(utils.BearerToken(r), r.URL.Query().Get("token"), id)
	if err != nil {
		m.ObserveStream(respondError(w, r, logger, err), 0)
		return
	}

	resp, err := engine.Serve(r.Context(), id, r.Header.Get("Range"))
	if err != nil {
		m.ObserveStream(respondError(w, r, logger, err), 0)
		return
	}

	n, err := resp.Write(w)
	m.ObserveStream(resp.Status, n)
	log := logger.With("request_id", RequestID(r.Context()), "user_id", userID, "episode_id", id)
	switch {
	case err == nil:
		log.Debug("stream served", "status", resp.Status, "bytes", n)
	case errors.Is(err, context.Canceled), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		log.Debug("client left mid-stream", "bytes", n)
	default:
		log.Warn("stream interrupted", "bytes", n, "error", err)
	}
}
