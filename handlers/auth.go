package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/amyflash/audio-drama-system/models"
	"github.com/amyflash/audio-drama-system/services/admission"
	"github.com/amyflash/audio-drama-system/utils"
)

const maxLoginBody = 4 << 10

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler only answers 400 for an unreadable body. Blank credentials go
// through the controller and fail like any other mismatch.
func LoginHandler(w http.ResponseWriter, r *http.Request, controller *admission.Controller, trusted utils.TrustedProxies, logger *slog.Logger) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	res, err := controller.Login(r.Context(), admission.LoginRequest{
		Username:      req.Username,
		Password:      req.Password,
		ClientAddress: utils.GetIP(r, trusted),
		ClientAgent:   utils.GetUserAgent(r),
	})
	if err != nil {
		respondError(w, r, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		AccessToken: res.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   int(res.ExpiresIn.Seconds()),
		User: models.UserResponse{
			ID:       res.User.ID.String(),
			Username: res.User.Username,
			Role:     res.User.Role,
			IsActive: res.User.IsActive,
		},
	})
}

func LogoutHandler(w http.ResponseWriter, r *http.Request, controller *admission.Controller, logger *slog.Logger) {
	user := CurrentUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, msgAuthRequired)
		return
	}
	if err := controller.Logout(r.Context(), user.ID.String()); err != nil {
		respondError(w, r, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true, Data: "logged out"})
}

// HeartbeatHandler renews the caller's session. A session that already
// expired is not recreated; the client has to log in again.
func HeartbeatHandler(w http.ResponseWriter, r *http.Request, controller *admission.Controller, logger *slog.Logger) {
	user := CurrentUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, msgAuthRequired)
		return
	}
	renewed, err := controller.Heartbeat(r.Context(), user.ID.String())
	if err != nil {
		respondError(w, r, logger, err)
		return
	}
	if !renewed {
		logger.Debug("heartbeat without live session", "request_id", RequestID(r.Context()), "user_id", user.ID)
	}

	ttl := int(controller.SessionTTL().Seconds())
	writeJSON(w, http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    fmt.Sprintf("heartbeat ok, session expires in %d seconds", ttl),
	})
}
