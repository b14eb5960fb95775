package handlers

import (
	"log/slog"
	"net/http"

	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/services/admission"
)

// OnlineHandler reports the live session count against the cap. It is
// public so the login page can warn before the user tries.
func OnlineHandler(w http.ResponseWriter, r *http.Request, controller *admission.Controller, logger *slog.Logger) {
	current, limit, err := controller.Online(r.Context())
	if err != nil {
		respondError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OnlineResponse{
		Success: true,
		Data: models.OnlineData{
			CurrentOnline: current,
			MaxOnline:     limit,
		},
	})
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
