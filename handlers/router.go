package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/amyflash/audio-drama-system/metrics"
	"github.com/amyflash/audio-drama-system/services/admission"
	"github.com/amyflash/audio-drama-system/services/streaming"
	"github.com/amyflash/audio-drama-system/services/tokens"
	"github.com/amyflash/audio-drama-system/utils"
)

type Deps struct {
	Controller     *admission.Controller
	Engine         *streaming.Engine
	Codec          *tokens.Codec
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	LoginLimiter   *IPRateLimiter // nil disables login rate limiting
	AllowedOrigins []string
	TrustedProxies utils.TrustedProxies
}

// NewRouter mounts the API under /api plus /health and /metrics.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := mux.NewRouter()
	r.Use(RequestLogger(logger, d.Metrics, d.TrustedProxies))

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	login := func(w http.ResponseWriter, r *http.Request) {
		LoginHandler(w, r, d.Controller, d.TrustedProxies, logger)
	}
	if d.LoginLimiter != nil {
		login = RateLimit(d.LoginLimiter, d.TrustedProxies, login)
	}
	api.HandleFunc("/auth/login", login).Methods(http.MethodPost)
	api.HandleFunc("/online", func(w http.ResponseWriter, r *http.Request) {
		OnlineHandler(w, r, d.Controller, logger)
	}).Methods(http.MethodGet)
	// The stream route authenticates itself: it also accepts stream tokens.
	api.HandleFunc("/stream/{episodeID}", func(w http.ResponseWriter, r *http.Request) {
		StreamHandler(w, r, d.Engine, d.Metrics, logger)
	}).Methods(http.MethodGet)

	authed := api.NewRoute().Subrouter()
	authed.Use(RequireAccess(d.Codec, d.Controller, logger))
	authed.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		LogoutHandler(w, r, d.Controller, logger)
	}).Methods(http.MethodPost)
	authed.HandleFunc("/auth/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		HeartbeatHandler(w, r, d.Controller, logger)
	}).Methods(http.MethodPost)
	authed.HandleFunc("/stream/token/{episodeID}", func(w http.ResponseWriter, r *http.Request) {
		StreamTokenHandler(w, r, d.Engine, logger)
	}).Methods(http.MethodGet)

	return CORS(d.AllowedOrigins)(r)
}
