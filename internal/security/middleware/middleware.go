package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
	"github.com/aryan0dhankhar/gatekeeper/internal/security"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/audit"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/ratelimit"
	"github.com/aryan0dhankhar/gatekeeper/internal/service"
)

type PrincipalContextKey struct{}

// Authorizer is the part of the auth service the guards need
type Authorizer interface {
	Authorize(ctx context.Context, token string, req service.Requirement) (*service.Principal, error)
}

// RequestContext stamps every request with an id, the client address and a
// per-request permission cache
func RequestContext(trustProxyHeaders bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 64 {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := audit.WithRequestInfo(r.Context(), audit.RequestInfo{
				IPAddress: ClientIP(r, trustProxyHeaders),
				UserAgent: r.UserAgent(),
				RequestID: requestID,
			})
			ctx = security.WithRequestCache(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the caller address. Forwarding headers are honored only
// when the server sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip.String()
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			if ip := net.ParseIP(xr); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIPFromContext returns the address stored by RequestContext
func ClientIPFromContext(ctx context.Context) string {
	return audit.RequestInfoFrom(ctx).IPAddress
}

// Require authenticates the session cookie and checks req before calling
// next. A rotated session id is written back as a fresh cookie.
func Require(authz Authorizer, cookies *SessionCookies, req service.Requirement, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authz.Authorize(r.Context(), cookies.Token(r), req)
			if p != nil && p.Session != nil && p.Session.Rotated {
				cookies.Set(w, p.Session)
			}
			if err != nil {
				switch {
				case domain.IsUnauthenticated(err):
					cookies.Clear(w)
					WriteError(w, http.StatusUnauthorized, "unauthorized")
				case errors.Is(err, domain.ErrForbidden):
					WriteError(w, http.StatusForbidden, "forbidden")
				default:
					log.Error("authorization failed",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					WriteError(w, http.StatusServiceUnavailable, "service unavailable")
				}
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipalFromContext returns the caller set by Require
func GetPrincipalFromContext(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(PrincipalContextKey{}).(*service.Principal); ok {
		return p
	}
	return nil
}

// ThrottleMiddleware applies the per-IP token bucket
func ThrottleMiddleware(throttle *ratelimit.Throttle, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromContext(r.Context())
			if !throttle.Allow(ip) {
				metrics.ObserveThrottled()
				log.Warn("request throttled",
					slog.String("client_ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", strconv.Itoa(1))
				WriteError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes {"error": msg} with status
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
