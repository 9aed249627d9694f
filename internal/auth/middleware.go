package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"

	"videoflow/internal/response"
)

type Config struct {
	APIKey string
	// PublicPaths are served without a key, e.g. health checks.
	PublicPaths []string
}

// APIKeyMiddleware guards the status API with a static key
func APIKeyMiddleware(config *Config, logger log.Logger) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(config.PublicPaths))
	for _, p := range config.PublicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth if no API key configured (for development)
			if config.APIKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && matches(token, config.APIKey) {
				next.ServeHTTP(w, r)
				return
			}
			if key := r.Header.Get("X-API-Key"); key != "" && matches(key, config.APIKey) {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warnf("Rejected unauthenticated %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			writeUnauthorized(w)
		})
	}
}

func matches(given, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}

func writeUnauthorized(w http.ResponseWriter) {
	errorResp := &response.JSONResponse{
		Code:    "unauthorized",
		Message: "Invalid or missing API key",
		Hint:    "Provide API key via Authorization: Bearer <key> or X-API-Key: <key>",
	}
	errorResp.WriteError(w, http.StatusUnauthorized)
}
