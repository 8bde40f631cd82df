package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/danmuhub/internal/models"
	"github.com/tomtom215/danmuhub/internal/repo"
)

// APIKeyAuth enforces the control API's single static-key scheme: the key
// may arrive as either the X-Api-Key header or an api_key query
// parameter, compared against apiKey in constant time. Every failure writes
// an external_api_log row before responding 401.
type APIKeyAuth struct {
	apiKey string
	repo   repo.Repo
	log    zerolog.Logger
}

// NewAPIKeyAuth builds an APIKeyAuth. An empty apiKey disables
// authentication entirely, for local/dev use.
func NewAPIKeyAuth(apiKey string, r repo.Repo, log zerolog.Logger) *APIKeyAuth {
	return &APIKeyAuth{apiKey: apiKey, repo: r, log: log.With().Str("component", "auth").Logger()}
}

// Middleware returns the chi-compatible handler wrapper.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		supplied := r.Header.Get("X-Api-Key")
		if supplied == "" {
			supplied = r.URL.Query().Get("api_key")
		}

		if supplied == "" || !constantTimeEqual(supplied, a.apiKey) {
			a.logFailure(r)
			http.Error(w, `{"success":false,"error":{"code":"UNAUTHORIZED","message":"missing or invalid API key"}}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (a *APIKeyAuth) logFailure(r *http.Request) {
	row := models.ExternalAPILogRow{
		Endpoint: r.URL.Path, APIKeyID: "unknown", Status: http.StatusUnauthorized, CreatedAt: time.Now(),
	}
	if err := a.repo.LogExternalAPIAccess(r.Context(), row); err != nil {
		a.log.Error().Err(err).Msg("failed to record external api log row")
	}
}
