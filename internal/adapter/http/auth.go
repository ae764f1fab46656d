package http

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/tikrec/internal/adapter/http/ratelimit"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
)

const accessTokenParam = "access_token"

// AuthMiddleware requires a valid bearer token when auth is enabled. Each
// failure is delayed by backoff and counted against the client; a blocked
// client gets 429 until its block expires.
func AuthMiddleware(auth Authenticator, limiter *ratelimit.FailureLimiter, backoff *ratelimit.Backoff, behindProxy, allowQuery bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.Enabled() {
			next(w, r)
			return
		}

		clientID := clientIP(r, behindProxy)
		if blocked, remaining := limiter.Blocked(clientID); blocked {
			tooManyAttempts(w, remaining)
			return
		}

		if err := auth.Verify(bearerToken(r, allowQuery)); err != nil {
			failures, block := limiter.Fail(clientID)
			logger.Warn.Printf("rejected token from %s (%d recent failures): %v", logger.SanitizeForLog(clientID), failures, err)
			if block > 0 {
				tooManyAttempts(w, block)
				return
			}
			if err := backoff.Wait(r.Context(), failures); err != nil {
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="tikrec"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}

		limiter.Reset(clientID)
		next(w, r)
	}
}

var errTooManyAttempts = errors.New("too many failed attempts")

func tooManyAttempts(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: errTooManyAttempts.Error()})
}

func bearerToken(r *http.Request, allowQuery bool) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if allowQuery {
		return r.URL.Query().Get(accessTokenParam)
	}
	return ""
}

// clientIP identifies the caller for rate limiting. X-Forwarded-For is only
// trusted behind a reverse proxy.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
