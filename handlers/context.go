package handlers

import (
	"context"
	"net/http"

	"github.com/amyflash/audio-drama-system/models"
)

// ContextKey is the type used for request context keys
type ContextKey string

const (
	ContextKeyUser      ContextKey = "user"
	ContextKeyRequestID ContextKey = "requestID"
)

// CurrentUser returns the account attached by RequireAccess, or nil.
func CurrentUser(r *http.Request) *models.User {
	if u, ok := r.Context().Value(ContextKeyUser).(*models.User); ok {
		return u
	}
	return nil
}

func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
