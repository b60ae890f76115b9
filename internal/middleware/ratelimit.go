package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/infinite-studio/internal/apperror"
	"github.com/sakif/infinite-studio/internal/respond"
)

var errTooManyRequests = apperror.RateLimited("too many requests, please try again later")

// Limiter decides whether one more request for key fits in scope's window.
// *auth.RateLimiter implements it.
type Limiter interface {
	Allow(ctx context.Context, scope, key string) (bool, time.Duration, error)
}

// RateLimit throttles requests per client IP under scope. The key is the
// request's RemoteAddr: the socket peer, unless the server trusts a proxy and
// mounts chi's RealIP in front, in which case RealIP has already replaced it
// with the forwarded client address.
//
// A nil limiter disables the middleware. If the limiter itself fails the
// request is let through and a warning logged.
func RateLimit(limiter Limiter, scope string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter, err := limiter.Allow(r.Context(), scope, clientIP(r))
			if err != nil {
				logger.Warn("rate limiter unavailable",
					slog.String("scope", scope),
					slog.String("error", err.Error()),
				)
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			respond.Error(w, errTooManyRequests)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
