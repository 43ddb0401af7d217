package middleware

import (
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// TrustedRealIP rewrites RemoteAddr from True-Client-IP, X-Real-IP or
// X-Forwarded-For, but only for requests whose socket address is inside one
// of proxyCIDRs. Requests from anywhere else keep the socket address, so a
// client cannot choose the address it is rate limited and deduplicated by.
// An empty list trusts no proxy.
func TrustedRealIP(proxyCIDRs []string, logger *slog.Logger) func(http.Handler) http.Handler {
	proxies := parsePrefixes(proxyCIDRs, "trusted proxy", logger)

	return func(next http.Handler) http.Handler {
		if len(proxies) == 0 {
			return next
		}
		forwarded := chimw.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if remoteIn(r, proxies) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
